package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/audit"
	"github.com/gluk-w/claworc/shellrelay/internal/session"
	"github.com/robfig/cron/v3"
)

// startJobs schedules the idle-session sweep and the daily audit purge.
// The returned scheduler is already running; Stop it on shutdown.
func startJobs(store *session.Store, auditor *audit.Auditor, sweepEvery time.Duration) (*cron.Cron, error) {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", sweepEvery), func() { sweepSessions(store) }); err != nil {
		return nil, fmt.Errorf("schedule session sweep: %w", err)
	}
	if auditor != nil {
		if _, err := c.AddFunc("@daily", func() { purgeAudit(auditor) }); err != nil {
			return nil, fmt.Errorf("schedule audit purge: %w", err)
		}
	}

	c.Start()
	log.Printf("[jobs] session sweep every %s, audit purge daily", sweepEvery)
	return c, nil
}

func sweepSessions(store *session.Store) {
	if n := store.Sweep(); n > 0 {
		log.Printf("[jobs] swept %d idle session(s)", n)
	}
}

func purgeAudit(auditor *audit.Auditor) {
	if _, err := auditor.PurgeOlderThan(0); err != nil {
		log.Printf("[jobs] audit purge failed: %v", err)
	}
}

// auditSessionEnd records session removals in the audit log.
func auditSessionEnd(auditor audit.Logger) func(session.Info, session.EndReason) {
	return func(info session.Info, reason session.EndReason) {
		eventType := audit.EventSessionEnd
		if reason == session.EndExpired {
			eventType = audit.EventSessionExpired
		}
		err := auditor.Log(audit.Entry{
			Identity:   info.Identity,
			SessionID:  info.ID,
			EventType:  eventType,
			Command:    info.Command,
			Details:    string(reason),
			DurationMs: time.Since(info.CreatedAt).Milliseconds(),
		})
		if err != nil {
			log.Printf("[jobs] audit write failed: %v", err)
		}
	}
}
