package training

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultAchievements is the catalogue installed by the seed command.
func DefaultAchievements() []*Achievement {
	return []*Achievement{
		{Code: "first_case", Name: "First Diagnosis", Description: "Complete your first case.", Category: "progress", Points: 5,
			Criteria: Criteria{Kind: CriteriaCasesCompleted, Threshold: 1}},
		{Code: "ten_cases", Name: "Seasoned Clinician", Description: "Complete ten cases.", Category: "progress", Points: 25,
			Criteria: Criteria{Kind: CriteriaCasesCompleted, Threshold: 10}},
		{Code: "hundred_points", Name: "Century", Description: "Earn 100 points.", Category: "points", Points: 10,
			Criteria: Criteria{Kind: CriteriaTotalPoints, Threshold: 100}},
		{Code: "streak_7", Name: "Week Streak", Description: "Practice seven days in a row.", Category: "streak", Points: 15,
			Criteria: Criteria{Kind: CriteriaStreakDays, Threshold: 7}},
		{Code: "perfect", Name: "Perfect Score", Description: "Score 100 on a case.", Category: "accuracy", Points: 10,
			Criteria: Criteria{Kind: CriteriaPerfectScore, Threshold: 1}},
	}
}

func sampleCases() []CreateCaseRequest {
	return []CreateCaseRequest{
		{
			Title: "Crushing chest pain", Specialty: "cardiology", Difficulty: DifficultyIntermediate,
			Presentation: Presentation{
				ChiefComplaint: "Chest pain radiating to the left arm for 40 minutes",
				History:        "58 year old smoker with hypertension",
				PhysicalExam: PhysicalExam{
					Vitals:   Vitals{HeartRate: 104, BloodPressure: "158/94", RespiratoryRate: 22, TemperatureC: 36.9, OxygenSaturation: 95},
					Findings: []string{"diaphoretic", "S4 gallop"},
				},
				Labs: []LabResult{{Name: "Troponin I", Value: "2.4", Unit: "ng/mL", Flag: "H"}},
			},
			CorrectDiagnosis:   "ST-elevation myocardial infarction",
			LearningObjectives: []string{"Recognise STEMI on ECG", "Door-to-balloon targets"},
			Points:             20,
		},
		{
			Title: "Fever and productive cough", Specialty: "internal medicine", Difficulty: DifficultyBeginner,
			Presentation: Presentation{
				ChiefComplaint: "Three days of fever and cough with rust-coloured sputum",
				PhysicalExam: PhysicalExam{
					Vitals:   Vitals{HeartRate: 98, BloodPressure: "124/78", RespiratoryRate: 24, TemperatureC: 38.9, OxygenSaturation: 93},
					Findings: []string{"right lower lobe crackles"},
				},
				Labs: []LabResult{{Name: "WBC", Value: "15.2", Unit: "10^9/L", Flag: "H"}},
			},
			CorrectDiagnosis:   "Community-acquired pneumonia",
			LearningObjectives: []string{"CURB-65 scoring"},
			Points:             10,
		},
	}
}

func sampleExam() CreateExamRequest {
	return CreateExamRequest{
		Title: "Cardiology basics", Specialty: "cardiology", PassingScore: decimal.NewFromInt(70), TimeLimitMinutes: 30,
		Questions: []Question{
			{Prompt: "First-line drug for stable angina symptom relief?", Choices: []string{"Nitroglycerin", "Warfarin", "Furosemide"}, AnswerIndex: 0},
			{Prompt: "Which lead group shows an inferior MI?", Choices: []string{"V1-V4", "II, III, aVF", "I, aVL"}, AnswerIndex: 1},
		},
	}
}

func sampleScenario() CreateScenarioRequest {
	return CreateScenarioRequest{
		Title: "Anaphylaxis in the waiting room", Category: "allergy", Severity: SeverityCritical, TimeLimitSeconds: 300,
		Steps: []ScenarioStep{
			{Order: 1, Prompt: "Patient has stridor and hives after a bee sting", ExpectedAction: "Give IM epinephrine 0.5 mg"},
			{Order: 2, Prompt: "Blood pressure 80/50", ExpectedAction: "Start IV fluid bolus"},
		},
	}
}

// Seed installs the achievement catalogue and, when no cases exist yet, a
// small set of sample content. Running it twice is harmless.
func (s *Service) Seed(ctx context.Context) error {
	for _, a := range DefaultAchievements() {
		if err := s.CreateAchievement(ctx, a); err != nil {
			return fmt.Errorf("seed achievement %s: %w", a.Code, err)
		}
	}
	_, total, err := s.repos.Cases.List(ctx, "", "", 1, 0)
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}
	for _, c := range sampleCases() {
		if _, err := s.CreateCase(ctx, c); err != nil {
			return fmt.Errorf("seed case %q: %w", c.Title, err)
		}
	}
	if _, err := s.CreateExam(ctx, sampleExam()); err != nil {
		return fmt.Errorf("seed exam: %w", err)
	}
	if _, err := s.CreateScenario(ctx, sampleScenario()); err != nil {
		return fmt.Errorf("seed scenario: %w", err)
	}
	s.logger.Info().Int("cases", len(sampleCases())).Msg("training content seeded")
	return nil
}
