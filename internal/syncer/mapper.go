package syncer

import "github.com/sisalud/appointment-notifier/internal/appointment"

// MapStatus translates a legacy status code into the local lifecycle state.
// The table is fixed; unknown codes report ok=false and the caller skips the
// row.
func MapStatus(code int) (appointment.Status, bool) {
	switch code {
	case 3:
		return appointment.StatusConfirmed, true
	case 4, 5, 6:
		return appointment.StatusIgnored, true
	case 1, 2, 7:
		return appointment.StatusCancelled, true
	case 8:
		return appointment.StatusRescheduled, true
	default:
		return 0, false
	}
}
