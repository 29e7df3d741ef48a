package gitops

import (
	"context"
	"strings"
	"sync"
)

// fakeRunner records git invocations and replays scripted responses.
// Unstubbed commands succeed with empty output so tests only script the
// calls they care about.
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string][]fakeResponse
	calls     []fakeCall
}

type fakeResponse struct {
	out string
	err error
}

type fakeCall struct {
	dir  string
	args []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string][]fakeResponse)}
}

func (f *fakeRunner) stub(args string, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[args] = append(f.responses[args], fakeResponse{out: out, err: err})
}

func (f *fakeRunner) Exec(ctx context.Context, dir string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{dir: dir, args: append([]string(nil), args...)})

	queue := f.responses[key]
	if len(queue) == 0 {
		return "", nil
	}
	resp := queue[0]
	f.responses[key] = queue[1:]
	return resp.out, resp.err
}

func (f *fakeRunner) callCount(args ...string) int {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if strings.Join(call.args, " ") == key {
			count++
		}
	}
	return count
}

func (f *fakeRunner) sawPrefix(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.calls {
		if strings.HasPrefix(strings.Join(call.args, " "), prefix) {
			return true
		}
	}
	return false
}
