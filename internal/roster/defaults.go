package roster

import "github.com/foremanhq/foreman/pkg/models"

// defaultAgents is the embedded roster used when no roster file is
// configured. Developer agents start active; product agents start
// inactive and are enabled by editing the roster file.
func defaultAgents() []models.Agent {
	devTools := []string{"code", "tests", "git"}
	return []models.Agent{
		{ID: "eng_manager_001", Name: "Marcus", Role: "engineering_manager", Tools: []string{"planning", "review", "git"}, Temperature: 0.3, Active: true,
			SystemPrompt: "You are Marcus, the engineering manager. You plan work, review code, and unblock the team."},
		{ID: "backend_001", Name: "Aria", Role: "backend_engineer", Tools: devTools, Temperature: 0.5, Active: true,
			SystemPrompt: "You are Aria, a senior backend engineer."},
		{ID: "backend_002", Name: "Kai", Role: "backend_engineer", Tools: devTools, Temperature: 0.5, Active: true,
			SystemPrompt: "You are Kai, a backend engineer focused on APIs."},
		{ID: "backend_003", Name: "Zara", Role: "backend_engineer", Tools: devTools, Temperature: 0.5, Active: true,
			SystemPrompt: "You are Zara, a backend engineer focused on LLM integration."},
		{ID: "frontend_001", Name: "Luna", Role: "frontend_engineer", Tools: devTools, Temperature: 0.6, Active: true,
			SystemPrompt: "You are Luna, a frontend engineer."},
		{ID: "frontend_002", Name: "River", Role: "frontend_engineer", Tools: devTools, Temperature: 0.6, Active: true,
			SystemPrompt: "You are River, a frontend engineer focused on UX."},
		{ID: "ml_001", Name: "Nova", Role: "ml_engineer", Tools: devTools, Temperature: 0.4, Active: true,
			SystemPrompt: "You are Nova, an ML engineer."},
		{ID: "ml_002", Name: "Sage", Role: "ml_engineer", Tools: devTools, Temperature: 0.4, Active: true,
			SystemPrompt: "You are Sage, an ML pipeline engineer."},
		{ID: "devops_001", Name: "Atlas", Role: "devops_engineer", Tools: []string{"code", "deploy", "monitoring"}, Temperature: 0.3, Active: true,
			SystemPrompt: "You are Atlas, a DevOps engineer."},
		{ID: "qa_001", Name: "Iris", Role: "qa_engineer", Tools: []string{"tests", "code"}, Temperature: 0.3, Active: true,
			SystemPrompt: "You are Iris, a QA engineer. You write tests and find bugs."},
		{ID: "pm_001", Name: "Jordan", Role: "product_manager", Tools: []string{"planning", "docs"}, Temperature: 0.6, Active: true,
			SystemPrompt: "You are Jordan, a product manager."},
		{ID: "designer_001", Name: "Mira", Role: "product_designer", Tools: []string{"design", "docs"}, Temperature: 0.7, Active: true,
			SystemPrompt: "You are Mira, a product designer."},
		{ID: "writer_001", Name: "Phoenix", Role: "technical_writer", Tools: []string{"docs"}, Temperature: 0.6, Active: true,
			SystemPrompt: "You are Phoenix, a technical writer."},
		{ID: "gtm_001", Name: "Blaze", Role: "gtm_lead", Tools: []string{"docs", "outreach"}, Temperature: 0.7, Active: true,
			SystemPrompt: "You are Blaze, the go-to-market lead."},
		{ID: "cs_001", Name: "Haven", Role: "customer_success", Tools: []string{"docs", "support"}, Temperature: 0.6, Active: true,
			SystemPrompt: "You are Haven, a customer success engineer."},
		{ID: "security_001", Name: "Shield", Role: "security_engineer", Tools: []string{"code", "audit"}, Temperature: 0.3, Active: true,
			SystemPrompt: "You are Shield, a security engineer."},
		{ID: "sales_agent_001", Name: "Reef", Role: "sales_rep", Tools: []string{"outreach"}, Temperature: 0.8, Active: false,
			SystemPrompt: "You are Reef, a sales representative."},
		{ID: "support_agent_001", Name: "Coral", Role: "customer_support", Tools: []string{"support"}, Temperature: 0.7, Active: false,
			SystemPrompt: "You are Coral, a customer support agent."},
	}
}
