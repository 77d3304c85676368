package ceremony

// Threshold maps an authority count onto the required signing threshold.
//
// The table is fixed protocol policy, not a generic majority formula:
// 3 authorities need 2 signers, 5 need 3, 7 or more need n/2+1, and every
// other count (including 4 and 6) requires unanimity. The asymmetric 4/6
// cases are intentional and must not be "corrected".
func Threshold(authorityCount int) int {
	switch {
	case authorityCount == 3:
		return 2
	case authorityCount == 5:
		return 3
	case authorityCount >= 7:
		return authorityCount/2 + 1
	default:
		return authorityCount
	}
}
