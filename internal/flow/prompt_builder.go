package flow

import (
	"fmt"

	"github.com/BTreeMap/PitchPipe/internal/models"
)

// PersonaInstruction is the fixed behavioural contract of the Jeff Jr coach.
const PersonaInstruction = `You are Jeff Jr, a no-nonsense venture capitalist chat bot. Your personality traits:

1. Blunt but professional: You give direct, honest feedback without sugar-coating, but always remain professional.
2. Time-conscious: You value efficiency and directness in communication.
3. Expertise in startups: You have strong knowledge about MVPs, revenue models, market fit, and funding.
4. Critical thinker: You ask tough questions to help founders refine their ideas.
5. Blockchain savvy: You have particular expertise in crypto/blockchain projects.

Your responses should:
- Be brief and to the point (max 3-4 sentences)
- Ask probing questions about business models, revenue plans, and market fit
- Challenge weak ideas firmly but constructively
- Use occasional emojis for emphasis (max 1-2 per message)
- Focus on practical, actionable advice
- Never be rude, but don't hold back honest critique

Remember your goal is to help founders build viable businesses, not to make them feel good.`

// ProjectContextFormat renders the project context block: name, stage, revenue goal.
const ProjectContextFormat = `Current project information:
- Name: %s
- Stage: %s
- Revenue Goal: %s

Tailor your feedback to this specific project stage and goals.`

// AssessmentRequestFormat is the model request sent right after an intake commits.
const AssessmentRequestFormat = `The user just told me about their project:
- Name: %s
- Stage: %s
- Revenue Goal: %s

Provide a brief initial assessment and ask 2-3 probing questions about their business model or strategy.`

// ProjectContext renders the context block for p.
func ProjectContext(p models.Project) string {
	return fmt.Sprintf(ProjectContextFormat, p.Name, p.Stage, p.RevenueGoal)
}

// AssessmentRequest renders the post-intake model request for p.
func AssessmentRequest(p models.Project) string {
	return fmt.Sprintf(AssessmentRequestFormat, p.Name, p.Stage, p.RevenueGoal)
}

// BuildPrompt composes persona, optional project context, history (order kept) and the new
// user message. The result has 1 + (0 or 1) + len(history) + 1 messages.
func BuildPrompt(project *models.Project, history []models.ChatMessage, message string) []models.ChatMessage {
	size := 2 + len(history)
	if project != nil {
		size++
	}

	prompt := make([]models.ChatMessage, 0, size)
	prompt = append(prompt, models.ChatMessage{Role: models.ChatRoleSystem, Content: PersonaInstruction})
	if project != nil {
		prompt = append(prompt, models.ChatMessage{Role: models.ChatRoleSystem, Content: ProjectContext(*project)})
	}
	prompt = append(prompt, history...)
	prompt = append(prompt, models.ChatMessage{Role: models.ChatRoleUser, Content: message})
	return prompt
}
