package state

// Merge combines the in-memory document with the version found on the remote
// during a pull–merge–push save. The merge is field-wise deterministic, not
// last-writer-wins, so two reactor invocations advancing different leaves
// never erase each other's progress.
//
// Neither input is mutated; the result is a fresh document.
func Merge(local, remote *OrchestrationState) *OrchestrationState {
	if remote == nil {
		out := *local
		return &out
	}
	if local == nil {
		out := *remote
		return &out
	}

	out := *local
	out.Phase = mergePhase(local.Phase, remote.Phase)
	out.EMs = mergeEMs(local.EMs, remote.EMs)
	out.Errors = unionErrors(local.Errors, remote.Errors)

	if out.Error == "" {
		out.Error = remote.Error
	}

	// First writer wins for the final PR.
	if local.FinalPR == nil && remote.FinalPR != nil {
		pr := *remote.FinalPR
		out.FinalPR = &pr
	}

	if out.AnalysisSummary == "" {
		out.AnalysisSummary = remote.AnalysisSummary
	}

	if remote.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = remote.UpdatedAt
	}

	return &out
}

// mergePhase picks the further-advanced phase, except that a failed side
// loses to any non-failed side: a writer that raced ahead on another leaf
// knows more than the one that gave up.
func mergePhase(a, b Phase) Phase {
	if a == PhaseFailed && b != PhaseFailed {
		return b
	}
	if b == PhaseFailed && a != PhaseFailed {
		return a
	}
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func mergeEMs(local, remote []EMRecord) []EMRecord {
	if len(remote) == 0 {
		return cloneEMs(local)
	}
	if len(local) == 0 {
		return cloneEMs(remote)
	}

	byID := make(map[int]*EMRecord, len(remote))
	for i := range remote {
		byID[remote[i].ID] = &remote[i]
	}

	out := make([]EMRecord, 0, len(local))
	seen := make(map[int]bool, len(local))
	for i := range local {
		seen[local[i].ID] = true
		if r, ok := byID[local[i].ID]; ok {
			out = append(out, mergeEM(local[i], *r))
		} else {
			out = append(out, cloneEM(local[i]))
		}
	}
	// EMs known only to the remote (another writer populated them).
	for i := range remote {
		if !seen[remote[i].ID] {
			out = append(out, cloneEM(remote[i]))
		}
	}
	return out
}

// mergeEM merges one EM slot. Worker slots take the further-advanced status,
// PR identity is first-writer-wins, and reviewsAddressed takes the maximum.
func mergeEM(local, remote EMRecord) EMRecord {
	out := cloneEM(local)
	out.Workers = mergeWorkers(local.Workers, remote.Workers)
	out.Status = mergeEMStatus(local.Status, remote.Status, out.Workers)

	if out.PRNumber == 0 {
		out.PRNumber = remote.PRNumber
		out.PRURL = remote.PRURL
	}
	if out.Task == "" {
		out.Task = remote.Task
	}
	if out.FocusArea == "" {
		out.FocusArea = remote.FocusArea
	}
	if remote.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = remote.UpdatedAt
	}
	if out.CompletedAt.IsZero() {
		out.CompletedAt = remote.CompletedAt
	}
	if out.StartedAt.IsZero() {
		out.StartedAt = remote.StartedAt
	}
	return out
}

// mergeEMStatus takes the further-advanced EM status with two carve-outs:
// failed loses to non-failed, and workers_running/workers_complete is never
// downgraded to skipped or failed while any merged worker slot is active.
func mergeEMStatus(a, b EMStatus, workers []WorkerRecord) EMStatus {
	anyActive := false
	for i := range workers {
		if workers[i].Status.Active() {
			anyActive = true
			break
		}
	}

	pick := a
	if b.Rank() > a.Rank() {
		pick = b
	}
	if a == EMFailed && b != EMFailed {
		pick = b
	}
	if b == EMFailed && a != EMFailed {
		pick = a
	}

	if (pick == EMSkipped || pick == EMFailed) && anyActive {
		if a == EMWorkersRunning || a == EMWorkersComplete {
			return a
		}
		if b == EMWorkersRunning || b == EMWorkersComplete {
			return b
		}
	}
	return pick
}

func mergeWorkers(local, remote []WorkerRecord) []WorkerRecord {
	if len(remote) == 0 {
		return cloneWorkers(local)
	}
	if len(local) == 0 {
		return cloneWorkers(remote)
	}

	byID := make(map[int]*WorkerRecord, len(remote))
	for i := range remote {
		byID[remote[i].ID] = &remote[i]
	}

	out := make([]WorkerRecord, 0, len(local))
	seen := make(map[int]bool, len(local))
	for i := range local {
		seen[local[i].ID] = true
		if r, ok := byID[local[i].ID]; ok {
			out = append(out, mergeWorker(local[i], *r))
		} else {
			out = append(out, cloneWorker(local[i]))
		}
	}
	for i := range remote {
		if !seen[remote[i].ID] {
			out = append(out, cloneWorker(remote[i]))
		}
	}
	return out
}

func mergeWorker(local, remote WorkerRecord) WorkerRecord {
	out := cloneWorker(local)
	out.Status = mergeWorkerStatus(local.Status, remote.Status)

	if out.PRNumber == 0 {
		out.PRNumber = remote.PRNumber
		out.PRURL = remote.PRURL
	}
	if remote.ReviewsAddressed > out.ReviewsAddressed {
		out.ReviewsAddressed = remote.ReviewsAddressed
	}
	if out.SessionID == "" {
		out.SessionID = remote.SessionID
	}
	if out.Error == "" {
		out.Error = remote.Error
	}
	if out.Task == "" {
		out.Task = remote.Task
	}
	if len(out.Files) == 0 {
		out.Files = append([]string(nil), remote.Files...)
	}
	if remote.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = remote.UpdatedAt
	}
	if out.StartedAt.IsZero() {
		out.StartedAt = remote.StartedAt
	}
	if out.CompletedAt.IsZero() {
		out.CompletedAt = remote.CompletedAt
	}
	return out
}

// mergeWorkerStatus takes the further-advanced worker status; failed loses
// to a side that recorded a successful outcome (approved, merged, skipped).
func mergeWorkerStatus(a, b WorkerStatus) WorkerStatus {
	successful := func(s WorkerStatus) bool {
		return s == WorkerApproved || s == WorkerMerged || s == WorkerSkipped
	}
	if a == WorkerFailed && successful(b) {
		return b
	}
	if b == WorkerFailed && successful(a) {
		return a
	}
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func unionErrors(a, b []ErrorEntry) []ErrorEntry {
	type key struct {
		ts  int64
		msg string
	}
	seen := make(map[key]bool, len(a)+len(b))
	out := make([]ErrorEntry, 0, len(a)+len(b))
	for _, list := range [][]ErrorEntry{a, b} {
		for _, e := range list {
			k := key{e.Timestamp.UnixNano(), e.Message}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneEMs(in []EMRecord) []EMRecord {
	out := make([]EMRecord, len(in))
	for i := range in {
		out[i] = cloneEM(in[i])
	}
	return out
}

func cloneEM(in EMRecord) EMRecord {
	out := in
	out.Workers = cloneWorkers(in.Workers)
	return out
}

func cloneWorkers(in []WorkerRecord) []WorkerRecord {
	out := make([]WorkerRecord, len(in))
	for i := range in {
		out[i] = cloneWorker(in[i])
	}
	return out
}

func cloneWorker(in WorkerRecord) WorkerRecord {
	out := in
	out.Files = append([]string(nil), in.Files...)
	return out
}
