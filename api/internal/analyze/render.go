package analyze

import (
	"fmt"
	"strings"

	"mari-ask/api/internal/llm"
)

// FormatMariStory renders the narrative JSON to the user-facing Markdown
// report. Pure string formatting, no model call.
func FormatMariStory(story *llm.MariNarrative) string {
	if story == nil {
		return ""
	}
	var b strings.Builder

	if story.Header.Title != "" {
		fmt.Fprintf(&b, "**%q**\n", story.Header.Title)
	}
	if story.Header.Summary != "" {
		b.WriteString(story.Header.Summary + "\n")
	}

	if len(story.Solutions) > 0 {
		b.WriteString("\n---\n\n🐾 **이런 솔루션이 가장 잘 맞아요!**\n")
		for i, sol := range story.Solutions {
			fmt.Fprintf(&b, "%d️⃣ **%s**\n%s\n", i+1, sol.Title, sol.Content)
			for _, step := range sol.Steps {
				fmt.Fprintf(&b, "- %s\n", step)
			}
			fmt.Fprintf(&b, "✨ 기대 효과: %s\n\n", sol.Outcome)
		}
	}

	if len(story.Guidance) > 0 {
		b.WriteString("---\n\n🐾 **앞으로 이렇게 해보세요!**\n")
		for _, g := range story.Guidance {
			fmt.Fprintf(&b, "- **%s**: %s\n", g.Principle, g.Description)
			if g.Action != "" {
				fmt.Fprintf(&b, "  → %s\n", g.Action)
			}
		}
	}

	if story.MariClosing.CoreMessage != "" || story.MariClosing.FinalQuote != "" {
		b.WriteString("\n---\n\n")
	}
	if story.MariClosing.CoreMessage != "" {
		b.WriteString(story.MariClosing.CoreMessage + "\n\n")
	}
	if story.MariClosing.FinalQuote != "" {
		b.WriteString(story.MariClosing.FinalQuote)
	}

	return strings.TrimSpace(b.String())
}

// SimpleTemplate renders a report directly from the expert JSON with fixed
// wording. Used when the narrative stage fails; never empty.
func SimpleTemplate(expert llm.ExpertAnalysis, dogName, dogAge string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**%q**\n\n", fmt.Sprintf("%s(%s)의 행동 분석 결과예요!", dogName, dogAge))
	coreIssue := expert.AnalysisSummary.CoreIssue
	if coreIssue == "" {
		coreIssue = "분석 결과"
	}
	b.WriteString(coreIssue + "\n\n---\n\n")

	fmt.Fprintf(&b, "🐾 **이런 솔루션이 %s에게 가장 잘 맞아요!**\n\n", dogName)
	for i, sol := range expert.SolutionsBestFit {
		if i >= llm.ExactSolutionCount {
			break
		}
		title := sol.Title
		if title == "" {
			title = fmt.Sprintf("솔루션 %d", i+1)
		}
		content := sol.Content
		if content == "" {
			content = "내용 없음"
		}
		fmt.Fprintf(&b, "**%d. %s**\n\n%s\n\n", i+1, title, content)
	}

	if expert.CoreMessage != "" {
		fmt.Fprintf(&b, "🌱 **마리의 한마디:**\n\n%q\n\n---\n\n", expert.CoreMessage)
	}

	b.WriteString("🐾 **앞으로 이렇게 해보세요!**\n\n")
	for i, g := range expert.FutureGuidance {
		if i >= llm.ExactSolutionCount {
			break
		}
		action := g.Action
		if action == "" {
			action = g.Content
		}
		fmt.Fprintf(&b, "- %s: %s\n", g.Principle, action)
	}

	fmt.Fprintf(&b, "\n**%s는 잘하고 있어요. 보호자님도 너무 잘하고 계세요 💛**\n", dogName)

	return b.String()
}
