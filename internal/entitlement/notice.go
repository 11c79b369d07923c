package entitlement

import (
	"time"

	"github.com/foxseedlab/dutykeeper/internal/repository"
)

// NextNoticeState returns the state an entitlement expiring at expiresAt
// should be in at now. States only move forward:
// not_warned -> warned -> expired, or not_warned -> expired when the warning
// window was missed entirely.
func NextNoticeState(current repository.NoticeState, expiresAt, now time.Time, lead time.Duration) repository.NoticeState {
	if current == repository.NoticeStateExpired {
		return current
	}
	if !now.Before(expiresAt) {
		return repository.NoticeStateExpired
	}
	if current == repository.NoticeStateNotWarned && !now.Before(expiresAt.Add(-lead)) {
		return repository.NoticeStateWarned
	}
	return current
}
