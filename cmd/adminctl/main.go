// Command adminctl drives a running ceremony server from the terminal:
// admin registration and login, poll creation, roster enrollment, and the
// Setup/KeyGen ceremony triggers.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tiacvote/poll-ceremony-backend/api/clients"
)

var flagServer *cli.StringFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "Ceremony server address",
}

var flagToken *cli.StringFlag = &cli.StringFlag{
	Name:    "token",
	Value:   "",
	Usage:   "Session token from a prior login verify",
	EnvVars: []string{"CEREMONY_TOKEN"},
}

var flagTC *cli.StringFlag = &cli.StringFlag{
	Name:  "tc",
	Usage: "National identifier number",
}

var flagEmail *cli.StringFlag = &cli.StringFlag{
	Name:  "email",
	Usage: "Email address",
}

var flagPollID *cli.Int64Flag = &cli.Int64Flag{
	Name:     "poll-id",
	Required: true,
	Usage:    "Poll id",
}

func newClient(cCtx *cli.Context) *clients.AdminClient {
	client := clients.NewAdminClient(cCtx.String("server-addr"))
	if token := cCtx.String("token"); token != "" {
		client.SetToken(token)
	}
	return client
}

// fileReader keeps a nil *os.File from becoming a non-nil io.Reader.
func fileReader(f *os.File) io.Reader {
	if f == nil {
		return nil
	}
	return f
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	app := &cli.App{
		Name:  "adminctl",
		Usage: "Operate the poll ceremony server",
		Commands: []*cli.Command{
			{
				Name:        "register",
				Usage:       "Register a new admin account",
				Flags:       []cli.Flag{flagServer, flagTC, flagEmail, &cli.StringFlag{Name: "phone", Usage: "Phone number"}},
				Action: func(cCtx *cli.Context) error {
					admin, err := newClient(cCtx).Register(
						cCtx.String("tc"), cCtx.String("email"), cCtx.String("phone"))
					if err != nil {
						return err
					}
					return printJSON(admin)
				},
			},
			{
				Name:        "login-start",
				Usage:       "Request login passcodes",
				Description: "The codes are delivered out-of-band; in development they appear in the server log.",
				Flags:       []cli.Flag{flagServer, flagTC, flagEmail},
				Action: func(cCtx *cli.Context) error {
					if err := newClient(cCtx).LoginStart(cCtx.String("tc"), cCtx.String("email")); err != nil {
						return err
					}
					fmt.Println("passcodes sent")
					return nil
				},
			},
			{
				Name:  "login-verify",
				Usage: "Exchange passcodes for a session token",
				Flags: []cli.Flag{flagServer, flagTC, flagEmail,
					&cli.StringFlag{Name: "email-code", Required: true},
					&cli.StringFlag{Name: "phone-code", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					err := client.LoginVerify(cCtx.String("tc"), cCtx.String("email"),
						cCtx.String("email-code"), cCtx.String("phone-code"))
					if err != nil {
						return err
					}
					fmt.Println(client.Token())
					return nil
				},
			},
			{
				Name:  "poll-create",
				Usage: "Create a draft poll",
				Flags: []cli.Flag{flagServer, flagToken,
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringFlag{Name: "description"},
				},
				Action: func(cCtx *cli.Context) error {
					poll, err := newClient(cCtx).CreatePoll(cCtx.String("title"), cCtx.String("description"))
					if err != nil {
						return err
					}
					return printJSON(poll)
				},
			},
			{
				Name:  "poll-list",
				Usage: "List polls with ceremony progress",
				Flags: []cli.Flag{flagServer, flagToken},
				Action: func(cCtx *cli.Context) error {
					summaries, err := newClient(cCtx).ListPolls()
					if err != nil {
						return err
					}
					return printJSON(summaries)
				},
			},
			{
				Name:  "poll-status",
				Usage: "Show one poll's details",
				Flags: []cli.Flag{flagServer, flagToken, flagPollID},
				Action: func(cCtx *cli.Context) error {
					details, err := newClient(cCtx).PollDetails(cCtx.Int64("poll-id"))
					if err != nil {
						return err
					}
					return printJSON(details)
				},
			},
			{
				Name:  "enroll",
				Usage: "Upload participant CSV files",
				Flags: []cli.Flag{flagServer, flagToken, flagPollID,
					&cli.StringFlag{Name: "voters-file", Usage: "CSV with tc,email,phone rows"},
					&cli.StringFlag{Name: "authorities-file", Usage: "CSV with tc,email,phone,name rows"},
				},
				Action: func(cCtx *cli.Context) error {
					var votersCSV, authoritiesCSV *os.File
					if path := cCtx.String("voters-file"); path != "" {
						f, err := os.Open(path)
						if err != nil {
							return err
						}
						defer f.Close()
						votersCSV = f
					}
					if path := cCtx.String("authorities-file"); path != "" {
						f, err := os.Open(path)
						if err != nil {
							return err
						}
						defer f.Close()
						authoritiesCSV = f
					}
					if votersCSV == nil && authoritiesCSV == nil {
						return fmt.Errorf("provide voters-file, authorities-file or both")
					}

					client := newClient(cCtx)
					result, err := client.EnrollParticipants(cCtx.Int64("poll-id"),
						fileReader(votersCSV), fileReader(authoritiesCSV))
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:  "setup",
				Usage: "Run the Setup ceremony step",
				Flags: []cli.Flag{flagServer, flagToken, flagPollID},
				Action: func(cCtx *cli.Context) error {
					setup, err := newClient(cCtx).TriggerSetup(cCtx.Int64("poll-id"))
					if err != nil {
						return err
					}
					return printJSON(setup)
				},
			},
			{
				Name:  "keygen",
				Usage: "Run the KeyGen ceremony step and activate the poll",
				Flags: []cli.Flag{flagServer, flagToken, flagPollID},
				Action: func(cCtx *cli.Context) error {
					mvk, err := newClient(cCtx).TriggerKeyGen(cCtx.Int64("poll-id"))
					if err != nil {
						return err
					}
					return printJSON(mvk)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
