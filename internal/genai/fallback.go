package genai

import (
	"fmt"

	"github.com/prakriti-odyssey/odyssey/internal/model"
)

// Reward tiers for offline drafts, keyed by requested difficulty.
const (
	rewardPointsEasy   = 60
	rewardPointsMedium = 90
	rewardPointsHard   = 120
	rewardCoinsEasy    = 30
	rewardCoinsMedium  = 45
	rewardCoinsHard    = 60
)

// FallbackRewards returns the offline reward schedule for a difficulty.
func FallbackRewards(d model.Difficulty) model.RewardPlan {
	switch d {
	case model.DifficultyHard:
		return model.RewardPlan{Points: rewardPointsHard, Coins: rewardCoinsHard}
	case model.DifficultyEasy:
		return model.RewardPlan{Points: rewardPointsEasy, Coins: rewardCoinsEasy}
	default:
		return model.RewardPlan{Points: rewardPointsMedium, Coins: rewardCoinsMedium}
	}
}

// FallbackDraft builds the deterministic offline quest draft. It is the
// degrade-to-offline path: always structurally valid, usable with no
// network access or credentials.
func FallbackDraft(c model.DraftConstraints) model.QuestDraft {
	title := c.Title
	if title == "" {
		title = "Climate Action Field Quest"
	}

	summary := "Students lead a climate resilience mission analysing real flood data and co-creating solutions."
	if c.GradeLevel != "" {
		summary += fmt.Sprintf(" Designed for learners in %s.", c.GradeLevel)
	}
	description := "A hands-on SDG13 quest where learners document climate risks, experiment with NEP2020-aligned prototypes, and mobilise their neighbourhood."
	if c.TeacherNotes != "" {
		description += fmt.Sprintf(" Teacher note: %s.", c.TeacherNotes)
	}

	return model.QuestDraft{
		Title:           title,
		Summary:         summary,
		Description:     description,
		PositiveOutcome: "Flood alerts reduce, rain gardens thrive, and students evolve into climate champions.",
		Panels:          fallbackPanels(title),
		Quiz:            fallbackQuiz(title),
		Rewards:         FallbackRewards(c.Difficulty),
	}
}

func fallbackPanels(title string) []model.PanelPlan {
	return []model.PanelPlan{
		{
			PanelID:        "p1",
			Layout:         model.LayoutFull,
			Headline:       title + ": The Wake-Up",
			Narration:      "A monsoon morning reveals flooded streets around the school. Students gather with their teacher to plan climate action.",
			RealtimeAnchor: "Morning assembly with live updates on rainfall and flood alerts for the district.",
			Dialogue: []model.DialogueLine{
				{Speaker: "Teacher Asha", Line: "Team, this is our chance to apply NEP2020 experiential learning!"},
				{Speaker: "Riya", Line: "Let's map the water flow and protect our neighborhood!"},
			},
			SustainableActions: []string{"Conduct local climate observations", "Use data from IMD apps"},
			SDGAlignment:       "SDG13 Target 13.3: Improve education and awareness on climate change mitigation and adaptation.",
			NEP2020Link:        "Experiential, joyful learning through real community challenges.",
			ImagePrompt:        "Vibrant school courtyard under grey clouds, students in raincoats examining flood map projections on a tablet, teacher encouraging them. Comic style, dynamic lighting.",
		},
		{
			PanelID:        "p2",
			Layout:         model.LayoutSplit,
			Headline:       "Community Climate Audit",
			Narration:      "Students split into teams capturing photos, interviews, and soil readings.",
			RealtimeAnchor: "Students gather geo-tagged evidence near waterlogged lanes and rooftops.",
			Dialogue: []model.DialogueLine{
				{Speaker: "Arjun", Line: "Soil is compacted; no rain can soak in!"},
				{Speaker: "Mia", Line: "We'll propose rain gardens to the ward officer."},
			},
			SustainableActions: []string{"Citizen-science data collection", "Interviewing elders about traditional rain practices"},
			SDGAlignment:       "SDG13 Target 13.2: Integrate climate measures into local planning.",
			NEP2020Link:        "Multidisciplinary project integrating science, geography, and civic studies.",
			ImagePrompt:        "Comic collage showing students using smartphones for surveys, another team testing soil with jars, grandparents sharing stories under umbrellas.",
		},
		{
			PanelID:        "p3",
			Layout:         model.LayoutSplit,
			Headline:       "Design Lab Sprint",
			Narration:      "Back in the makerspace, teams convert findings into prototypes.",
			RealtimeAnchor: "Students apply design thinking toolkit referencing their field data.",
			Dialogue: []model.DialogueLine{
				{Speaker: "Neha", Line: "Permeable tiles will reduce surface runoff near the library."},
				{Speaker: "Kabir", Line: "Let's 3D-print mini flood gates for the drains!"},
			},
			SustainableActions: []string{"Creating models of permeable pavements", "Planning rainwater harvesting barrels"},
			SDGAlignment:       "SDG13 Target 13.b: Promote climate resilience in marginalized communities.",
			NEP2020Link:        "STEAM integration with hands-on, collaborative problem solving.",
			ImagePrompt:        "Indoor maker lab, students assembling scale models, laptops open with rainfall simulations, comic energy, joyful teamwork.",
		},
		{
			PanelID:        "p4",
			Layout:         model.LayoutSplit,
			Headline:       "Community Pitch Day",
			Narration:      "Students present to parents, local officials, and eco-club members.",
			RealtimeAnchor: "Town hall with live dashboards, rainfall mitigation metrics, and budget notes.",
			Dialogue: []model.DialogueLine{
				{Speaker: "Parent", Line: "Your rain garden plan can protect our playground!"},
				{Speaker: "Ward Officer", Line: "We will provide saplings and compost for your design."},
			},
			SustainableActions: []string{"Public storytelling with data visualisations", "Securing civic partnership for implementation"},
			SDGAlignment:       "SDG13 Target 13.1: Strengthen resilience to climate-related hazards.",
			NEP2020Link:        "Community engagement and social responsibility emphasised by NEP2020.",
			ImagePrompt:        "Comic split scene of students presenting posters and digital dashboards, audience applauding, local leaders nodding.",
		},
		{
			PanelID:        "p5",
			Layout:         model.LayoutSplit,
			Headline:       "Impact and Reflection",
			Narration:      "Weeks later, the neighborhood enjoys safer pathways and lush micro rain forests.",
			RealtimeAnchor: "Students monitor impact via rainfall gauges and reflection journals.",
			Dialogue: []model.DialogueLine{
				{Speaker: "Riya", Line: "Flood alerts dropped by half after the rain garden!"},
				{Speaker: "Teacher Asha", Line: "Climate literacy in action - bravo, team!"},
			},
			SustainableActions: []string{"Citizen-led monitoring", "Maintaining rain gardens and saplings"},
			SDGAlignment:       "SDG13: Visible reduction in local flood risk and increased awareness.",
			NEP2020Link:        "Continuous reflective learning and local language storytelling.",
			ImagePrompt:        "Comic-style celebration scene, kids tending rain garden, clean street, data dashboard displaying lower flood markers.",
		},
	}
}

func fallbackQuiz(title string) model.QuizPlan {
	return model.QuizPlan{
		PassingScore:     70,
		TimeLimitSeconds: 240,
		Questions: []model.QuizPlanQuestion{
			{
				ID:       "q1",
				Question: fmt.Sprintf("Why did the team choose to study real flood data for %q?", title),
				Options: []string{
					"To memorise textbook definitions",
					"To design solutions based on local realities",
					"To avoid working with the community",
					"To collect trophies for the school",
				},
				CorrectOption: 1,
				Explanation:   "Field data helped them create NEP2020-aligned, real-world climate solutions.",
			},
			{
				ID:       "q2",
				Question: "Which NEP2020 principle guided their makerspace sprint?",
				Options: []string{
					"Rote repetition",
					"Experiential, multidisciplinary design thinking",
					"Solo worksheets at home",
					"Copying another school project",
				},
				CorrectOption: 1,
				Explanation:   "They collaborated across subjects, building joyful prototypes to solve community issues.",
			},
			{
				ID:       "q3",
				Question: "What SDG13 impact did the community observe after implementation?",
				Options: []string{
					"Increased plastic usage",
					"Reduced flood alerts and greener spaces",
					"More traffic jams",
					"Less student involvement",
				},
				CorrectOption: 1,
				Explanation:   "Their rain garden and awareness drives lowered flood risk and improved sustainability.",
			},
		},
	}
}
