package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"auction-site/internal/domain"
	"auction-site/internal/host"
	"auction-site/pkg/logger"
)

// CloseSweeper drains due end-of-auction jobs on a cron tick and closes
// the auctions through the owning site's engine. Lazy on-access closing
// remains authoritative; the sweeper only makes deadlines take effect for
// auctions nobody is looking at. Going through the site's coordinator
// means it takes the same per-auction locks as every other writer, and
// that each deadline is judged by that site's own clock.
type CloseSweeper struct {
	cron       *cron.Cron
	jobs       domain.SchedulerRepository
	sites      *host.Host
	leader     domain.LeaderElection
	instanceID string
	log        logger.Logger
}

func NewCloseSweeper(jobs domain.SchedulerRepository, sites *host.Host,
	leader domain.LeaderElection, instanceID string, log logger.Logger) *CloseSweeper {
	return &CloseSweeper{
		cron:       cron.New(cron.WithSeconds()),
		jobs:       jobs,
		sites:      sites,
		leader:     leader,
		instanceID: instanceID,
		log:        log,
	}
}

func (s *CloseSweeper) Start(ctx context.Context) error {
	s.log.Info("Starting close sweeper")

	_, err := s.cron.AddFunc("@every 1m", func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CloseSweeper) Stop() error {
	s.log.Info("Stopping close sweeper")
	s.cron.Stop()
	return nil
}

// Sweep processes every pending job whose deadline has passed. Only the
// leader sweeps, so a fleet of instances closes each auction once.
func (s *CloseSweeper) Sweep(ctx context.Context) {
	if s.leader != nil {
		isLeader, err := s.leader.IsLeader(ctx, s.instanceID)
		if err != nil {
			s.log.Error("Failed to check leadership", "error", err)
			return
		}
		if !isLeader {
			return
		}
	}

	// Job deadlines are site-logical times, so the wall clock alone cannot
	// decide what is due. Fetch with the widest possible timezone shift as
	// a candidate bound and let each site's clock make the call.
	horizon := time.Now().UTC().Add(time.Duration(domain.MaxTimezone) * time.Hour)
	jobs, err := s.jobs.GetPendingJobs(ctx, horizon)
	if err != nil {
		s.log.Error("Failed to get pending jobs", "error", err)
		return
	}

	for _, job := range jobs {
		done, err := s.closeIfDue(ctx, job)
		if err != nil {
			s.log.Error("Failed to execute job", "job_id", job.ID, "error", err)
			// Left pending; the next sweep retries.
			continue
		}
		if !done {
			// Not yet due on the owning site's clock.
			continue
		}

		s.log.Info("Closed auction for due job", "job_id", job.ID,
			"site", job.Site, "auction_id", job.AuctionID)
		if err := s.jobs.UpdateJobStatus(ctx, job.ID, domain.JobExecuted); err != nil {
			s.log.Error("Failed to mark job executed", "job_id", job.ID, "error", err)
		}
	}
}

// closeIfDue closes the job's auction when the owning site's clock has
// reached the deadline. It reports whether the job is finished; a job for
// a vanished site or auction counts as finished.
func (s *CloseSweeper) closeIfDue(ctx context.Context, job *domain.ScheduledJob) (bool, error) {
	coordinator, err := s.sites.LoadSite(ctx, job.Site)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return true, nil
		}
		return false, err
	}

	now, err := coordinator.Now()
	if err != nil {
		return false, err
	}
	if now.Before(job.RunAt) {
		return false, nil
	}

	if err := coordinator.Engine().Close(ctx, job.AuctionID); err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return true, nil
		}
		return false, err
	}
	return true, nil
}
