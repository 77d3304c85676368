/*
Package clients provides the Go client for the poll ceremony API.

AdminClient wraps the admin surface: registration, the two-step login,
poll creation and listing, roster enrollment from CSV files, and the
Setup/KeyGen ceremony triggers. After LoginVerify the client holds the
session token and attaches it to every subsequent request.

# Example Usage

	client := clients.NewAdminClient("http://localhost:8080")

	if err := client.LoginStart("12345678901", "admin@example.com"); err != nil {
	    return err
	}
	// codes arrive out-of-band
	if err := client.LoginVerify("12345678901", "admin@example.com", emailCode, phoneCode); err != nil {
	    return err
	}

	poll, err := client.CreatePoll("Election 2026", "General election")
	if err != nil {
	    return err
	}
	setup, err := client.TriggerSetup(poll.ID)
*/
package clients
