package tui

import (
	"fmt"
	"strings"

	"github.com/coderelay/cco/internal/state"
)

// RenderStatus formats one orchestration as a terminal status block.
func RenderStatus(s *state.OrchestrationState, width int) string {
	st := DefaultStyles()
	var b strings.Builder

	title := fmt.Sprintf("#%d %s", s.Issue.Number, s.Issue.Title)
	if len(title) > width {
		title = title[:width]
	}
	b.WriteString(st.Title.Render(title) + "\n")
	b.WriteString(st.Phase.Render(string(s.Phase)) + "  " + st.Branch.Render(s.WorkBranch) + "\n\n")

	if len(s.EMs) > 0 {
		b.WriteString(st.Header.Render(fmt.Sprintf("  %-4s %-20s %-18s %-8s %s", "EM", "Task", "Status", "PR", "Workers")) + "\n")
		for i := range s.EMs {
			em := &s.EMs[i]
			b.WriteString(renderEMRow(st, em) + "\n")
			for j := range em.Workers {
				b.WriteString(renderWorkerRow(st, &em.Workers[j]) + "\n")
			}
		}
	}

	if s.FinalPR != nil {
		b.WriteString("\n" + st.Header.Render("Final PR: ") + st.Cell.Render(prRef(s.FinalPR.Number)) + "\n")
	}
	if s.Error != "" {
		b.WriteString("\n" + st.Error.Render("error: "+s.Error) + "\n")
	}
	return b.String()
}

func renderEMRow(st Styles, em *state.EMRecord) string {
	icon, style := emGlyph(st, em.Status)
	row := fmt.Sprintf("%s %-4d %-20s %-18s %-8s %d", icon, em.ID,
		truncate(em.Task, 20), em.Status, prRef(em.PRNumber), len(em.Workers))
	return style.Render(row)
}

func renderWorkerRow(st Styles, w *state.WorkerRecord) string {
	icon, style := workerGlyph(st, w.Status)
	row := fmt.Sprintf("  %s w%-3d %-18s %-18s %-8s", icon, w.ID,
		truncate(w.Task, 18), w.Status, prRef(w.PRNumber))
	if w.ReviewsAddressed > 0 {
		row += fmt.Sprintf(" reviews:%d", w.ReviewsAddressed)
	}
	return style.Render(row)
}

func emGlyph(st Styles, status state.EMStatus) (string, interface{ Render(...string) string }) {
	switch status {
	case state.EMMerged, state.EMSkipped:
		return IconSettled, st.Settled
	case state.EMFailed:
		return IconFailed, st.Failed
	case state.EMPending:
		return IconWaiting, st.Cell
	default:
		return IconActive, st.Active
	}
}

func workerGlyph(st Styles, status state.WorkerStatus) (string, interface{ Render(...string) string }) {
	switch {
	case status.Settled():
		return IconSettled, st.Settled
	case status == state.WorkerFailed:
		return IconFailed, st.Failed
	case status == state.WorkerPending:
		return IconWaiting, st.Cell
	default:
		return IconActive, st.Active
	}
}

func prRef(number int) string {
	if number == 0 {
		return "-"
	}
	return fmt.Sprintf("#%d", number)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
