package consultation

import "time"

// BillingQuote is the money breakdown computed when a visit completes.
// All amounts are integer cents; the rounding rules below round up, so the
// platform never undercharges by a fraction of a cent.
type BillingQuote struct {
	DurationMinutes   int
	TotalCents        int64
	PlatformFeeCents  int64
	DoctorPayoutCents int64
}

// BilledMinutes rounds the visit duration up to whole minutes. A visit that
// ran any fraction of a minute bills the full minute.
func BilledMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	mins := int(d / time.Minute)
	if d%time.Minute != 0 {
		mins++
	}
	return mins
}

// Quote prices a visit: total = hourlyRate × minutes/60 rounded up to the
// cent, platform fee = feePercent of the total rounded up to the cent,
// payout = remainder.
func Quote(hourlyRateCents int64, durationMinutes int, feePercent int64) BillingQuote {
	total := ceilDiv(hourlyRateCents*int64(durationMinutes), 60)
	fee := ceilDiv(total*feePercent, 100)
	return BillingQuote{
		DurationMinutes:   durationMinutes,
		TotalCents:        total,
		PlatformFeeCents:  fee,
		DoctorPayoutCents: total - fee,
	}
}

func ceilDiv(n, d int64) int64 {
	q := n / d
	if n%d != 0 {
		q++
	}
	return q
}
