package scraper

import "time"

// EstimateDuration projects how long a job will run: one paced fetch per
// candidate record across every (term, location) pair, plus the rest windows
// that many records will trigger. It is returned once at submission and never
// updated.
func EstimateDuration(job Job) time.Duration {
	locations := len(job.Locations)
	if locations == 0 {
		locations = 1
	}
	records := len(job.Terms) * locations * job.ResultCap
	if records <= 0 {
		return 0
	}
	mean := (job.Pacing.MinDelay + job.Pacing.MaxDelay) / 2
	total := time.Duration(records) * mean
	if job.Pacing.RestEvery > 0 && job.Pacing.RestDuration > 0 {
		rests := records / job.Pacing.RestEvery
		total += time.Duration(rests) * job.Pacing.RestDuration
	}
	return total
}
