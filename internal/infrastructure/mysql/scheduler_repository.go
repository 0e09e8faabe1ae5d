package mysql

import (
	"context"
	"database/sql"
	"time"

	"auction-site/internal/domain"
)

// SchedulerRepository persists end-of-auction jobs for the close sweeper.
type SchedulerRepository struct {
	db *sql.DB
}

func NewSchedulerRepository(db *sql.DB) *SchedulerRepository {
	return &SchedulerRepository{db: db}
}

func (r *SchedulerRepository) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	query := `
        INSERT INTO scheduled_jobs (id, site, auction_id, job_type, run_at, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Site, job.AuctionID, string(job.JobType),
		job.RunAt, string(job.Status), job.CreatedAt)
	return wrapErr("create job", err)
}

func (r *SchedulerRepository) GetPendingJobs(ctx context.Context, before time.Time) ([]*domain.ScheduledJob, error) {
	query := `
        SELECT id, site, auction_id, job_type, run_at, status, created_at
        FROM scheduled_jobs
        WHERE status = 'pending' AND run_at <= ?
        ORDER BY run_at ASC
    `

	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, wrapErr("get pending jobs", err)
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		var job domain.ScheduledJob
		var jobType, status string

		err := rows.Scan(&job.ID, &job.Site, &job.AuctionID, &jobType,
			&job.RunAt, &status, &job.CreatedAt)
		if err != nil {
			return nil, wrapErr("get pending jobs", err)
		}

		job.JobType = domain.JobType(jobType)
		job.Status = domain.JobStatus(status)
		jobs = append(jobs, &job)
	}
	return jobs, wrapErr("get pending jobs", rows.Err())
}

func (r *SchedulerRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	query := `UPDATE scheduled_jobs SET status = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, string(status), jobID)
	return wrapErr("update job status", err)
}

func (r *SchedulerRepository) CancelJobsForAuction(ctx context.Context, site string, auctionID int64) error {
	query := `
        UPDATE scheduled_jobs SET status = 'cancelled'
        WHERE site = ? AND auction_id = ? AND status = 'pending'
    `
	_, err := r.db.ExecContext(ctx, query, site, auctionID)
	return wrapErr("cancel jobs", err)
}
