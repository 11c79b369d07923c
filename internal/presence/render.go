package presence

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/repository"
)

const (
	statusTitle   = "📋 Staff Attendance - Currently Signed In"
	statusFooter  = "⏰ Attendance bot | Updates every sign-in/out"
	statusColor   = 0x3498db
	statusEmpty   = "❌ **No one is signed in**\nEnjoy your break! 🎉"
	statusLineFmt = "👤 <@%s> · since <t:%d:t> (<t:%d:R>)"

	// Discord rejects embed descriptions longer than this.
	maxDescriptionLen = 4096
)

// Render builds the status message for the given open sessions. The output
// only depends on its input: times are rendered as Discord timestamp markup,
// which clients localize and tick on their own.
func Render(sessions []repository.AttendanceSession) discord.Message {
	sorted := make([]repository.AttendanceSession, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].StartedAt.Equal(sorted[j].StartedAt) {
			return sorted[i].StartedAt.Before(sorted[j].StartedAt)
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	description := statusEmpty
	if len(sorted) > 0 {
		description = renderLines(sorted)
	}
	return discord.Message{
		Embeds: []discord.Embed{{
			Title:       statusTitle,
			Description: description,
			Color:       statusColor,
			Footer:      fmt.Sprintf("%s | %d on duty", statusFooter, len(sorted)),
		}},
	}
}

func renderLines(sessions []repository.AttendanceSession) string {
	var b strings.Builder
	for i, s := range sessions {
		unix := s.StartedAt.Unix()
		line := fmt.Sprintf(statusLineFmt, s.UserID, unix, unix)
		rest := fmt.Sprintf("\n…and %d more", len(sessions)-i)
		need := len(line)
		if i > 0 {
			need++
		}
		if i < len(sessions)-1 {
			// room for the suffix if a later line does not fit
			need += len(rest)
		}
		if b.Len()+need > maxDescriptionLen {
			b.WriteString(rest)
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

// Fingerprint returns a stable digest of the rendered payload.
func Fingerprint(msg discord.Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}
