package audit

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

const reportTimeLayout = "2006-01-02 15:04:05.000000 UTC"

// SortChronological orders events by creation time, ties broken by sequence.
func SortChronological(events []*Event) []*Event {
	out := make([]*Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// RenderReport produces the human-readable audit trail for a request.
// The output depends only on the events, so rendering the same events twice
// yields identical bytes.
func RenderReport(requestID string, events []*Event) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "AUDIT TRAIL\n")
	fmt.Fprintf(&b, "Signature request: %s\n", requestID)
	fmt.Fprintf(&b, "Events: %d\n", len(events))
	if len(events) > 0 {
		fmt.Fprintf(&b, "Chain head: %s\n", events[len(events)-1].Hash)
	}
	b.WriteString(strings.Repeat("=", 72))
	b.WriteByte('\n')

	for i, e := range SortChronological(events) {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, e.CreatedAt.UTC().Format(reportTimeLayout), strings.ToUpper(string(e.Type)))

		if e.SignerName != "" || e.SignerEmail != "" {
			fmt.Fprintf(&b, "   Signer:   %s <%s>\n", e.SignerName, e.SignerEmail)
		}
		if e.RecipientID != "" {
			fmt.Fprintf(&b, "   Recipient: %s\n", e.RecipientID)
		}
		if e.IPAddress != "" {
			fmt.Fprintf(&b, "   IP:       %s\n", e.IPAddress)
		}
		if e.UserAgent != "" {
			fmt.Fprintf(&b, "   Device:   %s\n", e.Device)
		}
		if e.Geo.City != "" || e.Geo.Country != "" {
			fmt.Fprintf(&b, "   Location: %s\n", strings.Trim(e.Geo.City+", "+e.Geo.Country, ", "))
		}
		if e.AuthMethod != "" {
			fmt.Fprintf(&b, "   Auth:     %s\n", e.AuthMethod)
		}
		if e.Consent {
			fmt.Fprintf(&b, "   Consent:  given at %s\n", formatOptional(e.ConsentAt))
		}
		if e.SignedAt != nil {
			fmt.Fprintf(&b, "   Signed:   %s\n", formatOptional(e.SignedAt))
		}
		if e.DocumentHash != "" {
			fmt.Fprintf(&b, "   Document: %s", e.DocumentHash)
			if e.DocumentVersion != "" {
				fmt.Fprintf(&b, " (%s)", e.DocumentVersion)
			}
			b.WriteByte('\n')
		}
		if len(e.Details) > 0 {
			fmt.Fprintf(&b, "   Details:  %s\n", formatMap(e.Details))
		}
		fmt.Fprintf(&b, "   Hash:     %s\n", e.Hash)
	}

	return b.Bytes()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(reportTimeLayout)
}

func formatMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ", ")
}
