package domain

// Channel identifies a verification delivery channel.
type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelEmail Channel = "email"
)

// Cache key builders for per-channel verification state. The daily counter
// gets a 24h TTL on first write; the last-issue timestamp never expires and
// is overwritten on each issuance; the pending-code marker expires with the
// code validity window and is the sole proof of an unredeemed code.
func DailyCountKey(ch Channel, address string) string {
	return "verify:" + string(ch) + ":daily:" + address
}

func LastIssueKey(ch Channel, address string) string {
	return "verify:" + string(ch) + ":last:" + address
}

func PendingCodeKey(ch Channel, address, code string) string {
	return "verify:" + string(ch) + ":code:" + address + ":" + code
}
