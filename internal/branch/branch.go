// Package branch implements the deterministic bidirectional mapping between
// orchestration components and git branch names.
//
// The namespace is strict: the work branch is "cco/<issue>-<slug>", each
// engineering-manager branch appends "-em<id>", and each worker branch
// appends "-em<id>-w<id>". The mapping is injective so a branch name alone
// identifies its component.
package branch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Prefix is the namespace shared by every orchestration branch.
const Prefix = "cco/"

// maxSlugLen caps the slug portion of a work branch name.
const maxSlugLen = 50

// ComponentType identifies which level of the hierarchy a branch belongs to.
type ComponentType string

const (
	ComponentDirector ComponentType = "director"
	ComponentEM       ComponentType = "em"
	ComponentWorker   ComponentType = "worker"
	ComponentNone     ComponentType = ""
)

// Component is the parsed identity of an orchestration branch.
type Component struct {
	Type        ComponentType
	IssueNumber int
	EMID        int
	WorkerID    int
}

var (
	invalidChars = regexp.MustCompile(`[^a-z0-9-]+`)
	hyphenRuns   = regexp.MustCompile(`-+`)

	// workBranchRe captures the issue number from the work branch prefix.
	workBranchRe = regexp.MustCompile(`^cco/(\d+)(?:-|$)`)

	// workerSuffixRe matches "-em<id>-w<id>" at the end of a branch name.
	workerSuffixRe = regexp.MustCompile(`-em(\d+)-w(\d+)$`)

	// emSuffixRe matches "-em<id>" at the end of a branch name.
	emSuffixRe = regexp.MustCompile(`-em(\d+)$`)
)

// Slug normalizes an issue title into a branch-safe slug: lowercase ASCII
// alphanumerics with hyphens, runs collapsed, trimmed, at most 50 chars.
// Slug is idempotent: Slug(Slug(s)) == Slug(s).
func Slug(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = invalidChars.ReplaceAllString(s, "-")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
		s = strings.TrimRight(s, "-")
	}
	return s
}

// WorkBranch returns the director-level branch for an issue.
func WorkBranch(issueNumber int, title string) string {
	slug := Slug(title)
	if slug == "" {
		return fmt.Sprintf("%s%d", Prefix, issueNumber)
	}
	return fmt.Sprintf("%s%d-%s", Prefix, issueNumber, slug)
}

// EMBranch returns the branch for an engineering manager under workBranch.
func EMBranch(workBranch string, emID int) string {
	return fmt.Sprintf("%s-em%d", workBranch, emID)
}

// WorkerBranch returns the branch for a worker under its EM branch.
func WorkerBranch(emBranch string, workerID int) string {
	return fmt.Sprintf("%s-w%d", emBranch, workerID)
}

// Parse identifies the component a branch name refers to. Branches outside
// the cco namespace return a Component with Type ComponentNone.
//
// The worker suffix is checked before the EM suffix because every worker
// branch also ends in digits preceded by "-em<id>".
func Parse(name string) Component {
	m := workBranchRe.FindStringSubmatch(name)
	if m == nil {
		return Component{Type: ComponentNone}
	}
	issue, err := strconv.Atoi(m[1])
	if err != nil {
		return Component{Type: ComponentNone}
	}

	if wm := workerSuffixRe.FindStringSubmatch(name); wm != nil {
		emID, _ := strconv.Atoi(wm[1])
		workerID, _ := strconv.Atoi(wm[2])
		return Component{Type: ComponentWorker, IssueNumber: issue, EMID: emID, WorkerID: workerID}
	}

	if em := emSuffixRe.FindStringSubmatch(name); em != nil {
		emID, _ := strconv.Atoi(em[1])
		return Component{Type: ComponentEM, IssueNumber: issue, EMID: emID}
	}

	return Component{Type: ComponentDirector, IssueNumber: issue}
}

// BaseBranch returns the branch a component's PR targets: worker branches
// target their EM branch, EM branches target the work branch, and the work
// branch targets defaultBase.
func BaseBranch(name, defaultBase string) string {
	switch Parse(name).Type {
	case ComponentWorker:
		return workerSuffixRe.ReplaceAllStringFunc(name, func(s string) string {
			m := workerSuffixRe.FindStringSubmatch(s)
			return "-em" + m[1]
		})
	case ComponentEM:
		return emSuffixRe.ReplaceAllString(name, "")
	case ComponentDirector:
		return defaultBase
	default:
		return defaultBase
	}
}

// Validate checks that a branch name is acceptable to git. Grounds out the
// obvious rejections before any gateway call is attempted.
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(name, "refs/") {
		return fmt.Errorf("branch name cannot start with 'refs/'")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if strings.ContainsAny(name, " ~^:?*[\\") {
		return fmt.Errorf("branch name contains invalid characters: %q", name)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("branch name cannot end with '.lock'")
	}
	return nil
}
