// Package alert composes and delivers parent notifications.
package alert

import (
	"fmt"
	"strings"

	"github.com/safescope/monitor/internal/monitor"
)

// Compose builds the subject and plain-text body for an alert message,
// mirroring the reference notification format. The thumbnail score line is
// included only when the image signal contributed and the label is not safe.
func Compose(msg monitor.AlertMessage) (subject, body string) {
	visit := msg.Visit
	subject = fmt.Sprintf("Risky Activity Detected: %s", visit.Title)

	var b strings.Builder
	b.WriteString("A risky website interaction has been detected for your child:\n\n")
	fmt.Fprintf(&b, "URL: %s\n", visit.URL)
	fmt.Fprintf(&b, "Title: %s\n", visit.Title)
	fmt.Fprintf(&b, "Time: %s\n", visit.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Verdict: %s - %s\n", strings.ToUpper(string(visit.Label)), visit.Reason)
	fmt.Fprintf(&b, "Summary:\n%s\n", visit.Summary)

	if msg.ThumbnailScore != nil && visit.Label != monitor.LabelSafe {
		fmt.Fprintf(&b, "\nThumbnail NSFW Risk Score: %v (above safety threshold)\n", *msg.ThumbnailScore)
	}

	b.WriteString("\nPlease review their activity on the SafeScope dashboard.\n")
	b.WriteString("\nStay alert. Stay safe.\nSafeScope Team\n")
	return subject, b.String()
}
