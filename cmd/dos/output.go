package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"decisionos/internal/domain"
	"decisionos/internal/lifecycle"
	"decisionos/internal/okr"
)

var (
	styleColors = map[string]lipgloss.Color{
		"amber":   lipgloss.Color("214"),
		"blue":    lipgloss.Color("33"),
		"purple":  lipgloss.Color("141"),
		"teal":    lipgloss.Color("37"),
		"neutral": lipgloss.Color("245"),
	}
	headingStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	secondaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	goodStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("35")).Bold(true)
	badStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("167")).Bold(true)
)

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func statusCell(s domain.Status) string {
	st := lifecycle.StyleFor(s)
	return lipgloss.NewStyle().Foreground(styleColors[st.Color]).Render(st.Icon + " " + st.Label)
}

func verdictCell(v domain.Verdict) string {
	switch v {
	case domain.VerdictValidated:
		return goodStyle.Render("✓ " + string(v))
	case domain.VerdictNotValidated:
		return badStyle.Render("✗ " + string(v))
	default:
		return ""
	}
}

func check(done bool) string {
	if done {
		return goodStyle.Render("●")
	}
	return secondaryStyle.Render("○")
}

func printProjects(items []domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Name", "Workspace", "GitHub", "Cycles", "Created"})
	for _, p := range items {
		gh := ""
		if p.GitHub != nil {
			gh = p.GitHub.Owner + "/" + p.GitHub.Repo
		}
		tw.AppendRow(table.Row{p.ID, p.Name, p.WorkspaceID, gh, p.CycleCount, p.CreatedAt})
	}
	tw.Render()
	return nil
}

func printCycles(items []domain.DecisionCycle) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Title", "Project", "Status", "Owner", "Evidence", "Verdict", "Updated"})
	for _, c := range items {
		verdict := ""
		if c.Review != nil {
			verdict = verdictCell(c.Review.Verdict)
		}
		owner := c.OwnerID
		if c.OwnerName != "" {
			owner = c.OwnerName
		}
		tw.AppendRow(table.Row{c.ID, c.Title, c.ProjectName, statusCell(c.Status), owner, len(c.Evidence), verdict, c.UpdatedAt})
	}
	tw.Render()
	return nil
}

func printCycle(c domain.DecisionCycle, a okr.Assessment) error {
	if viper.GetBool("json") {
		return printJSON(struct {
			domain.DecisionCycle
			StatusStyle lifecycle.Style      `json:"status_style"`
			Phases      lifecycle.PhaseState `json:"phases"`
			Assessment  okr.Assessment       `json:"assessment"`
		}{c, lifecycle.StyleFor(c.Status), lifecycle.Phases(c), a})
	}
	fmt.Println(headingStyle.Render(c.Title) + "  " + statusCell(c.Status))
	fmt.Println(secondaryStyle.Render(fmt.Sprintf("%s · %s · owner %s", c.ID, c.ProjectName, c.OwnerID)))
	ph := lifecycle.Phases(c)
	fmt.Printf("%s Hypothesis  %s Evidence  %s Review  %s Outcome\n\n", check(ph.Hypothesis), check(ph.Evidence), check(ph.Review), check(ph.Outcome))

	lock := "unlocked"
	if c.Hypothesis.Locked() {
		lock = "locked " + *c.Hypothesis.LockedAt
	}
	fmt.Println(headingStyle.Render("Hypothesis") + " " + secondaryStyle.Render("("+lock+")"))
	fmt.Println(indent(c.Hypothesis.Hypothesis))
	if c.Hypothesis.OutOfScope != "" {
		fmt.Println(secondaryStyle.Render("Out of scope: ") + c.Hypothesis.OutOfScope)
	}
	fmt.Println()
	if len(a.KeyResults) > 0 {
		printAssessment(a)
		fmt.Println()
	}
	if len(c.Evidence) > 0 {
		printEvidence(c.Evidence)
		fmt.Println()
	}
	if c.Review != nil {
		fmt.Printf("%s %s  %d%% achieved\n", headingStyle.Render("Review"), verdictCell(c.Review.Verdict), c.Review.AchievementRate)
		if c.Review.Comment != "" {
			fmt.Println(indent(c.Review.Comment))
		}
	}
	if c.Outcome != nil {
		fmt.Printf("%s %s\n", headingStyle.Render("Outcome"), c.Outcome.Decision)
		if c.Outcome.Notes != "" {
			fmt.Println(indent(c.Outcome.Notes))
		}
		if c.Outcome.IssueURL != nil {
			fmt.Println(indent(*c.Outcome.IssueURL))
		}
	}
	return nil
}

func printAssessment(a okr.Assessment) {
	tw := newTable(table.Row{"#", "Key result", "Target", "Baseline", "Achieved"})
	for i, kr := range a.KeyResults {
		baseline, achieved := "", ""
		if kr.Baseline != nil {
			baseline = *kr.Baseline
		}
		if kr.Achieved != nil {
			achieved = fmt.Sprintf("%d%%", *kr.Achieved)
		}
		tw.AppendRow(table.Row{i, kr.Metric, kr.Target, baseline, achieved})
	}
	tw.AppendFooter(table.Row{"", "Achievement", "", "", fmt.Sprintf("%d%%", a.AchievementRate)})
	tw.Render()
	fmt.Println("Suggested verdict: " + verdictCell(a.SuggestedVerdict))
}

func printEvidence(items []domain.Evidence) {
	tw := newTable(table.Row{"ID", "Type", "Reference", "Status", "Conclusion", "Added"})
	for _, ev := range items {
		status, conclusion := "", ""
		if ev.Status != nil {
			status = *ev.Status
		}
		if ev.Conclusion != nil {
			conclusion = *ev.Conclusion
		}
		tw.AppendRow(table.Row{ev.ID, ev.Type, ev.ReferenceURL, status, conclusion, ev.CreatedAt})
	}
	tw.Render()
}

func printNorthStar(ns domain.NorthStar) error {
	if viper.GetBool("json") {
		return printJSON(ns)
	}
	trend := fmt.Sprintf("%+d", ns.Trend)
	switch {
	case ns.Trend > 0:
		trend = goodStyle.Render("▲ " + trend)
	case ns.Trend < 0:
		trend = badStyle.Render("▼ " + trend)
	}
	fmt.Printf("%s %d%%  %s\n", headingStyle.Render("Validated decision rate"), ns.ValidatedDecisionRate, trend)
	b := ns.Breakdown
	fmt.Println(secondaryStyle.Render(fmt.Sprintf("%d validated · %d not validated · %d pending · %d total", b.Validated, b.NotValidated, b.Pending, b.Total)))
	if len(ns.History) == 0 {
		return nil
	}
	tw := newTable(table.Row{"Month", "Rate", ""})
	for _, p := range ns.History {
		tw.AppendRow(table.Row{p.Month, fmt.Sprintf("%d%%", p.Rate), strings.Repeat("█", p.Rate/5)})
	}
	tw.Render()
	return nil
}

func printEvents(items []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Time", "Type", "Project", "Entity", "Actor"})
	for _, evt := range items {
		entity := evt.EntityKind
		if evt.EntityID != "" {
			entity += ":" + evt.EntityID
		}
		tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ProjectID, entity, evt.ActorID})
	}
	tw.Render()
	return nil
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
