package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/grading"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/xuri/excelize/v2"
)

const (
	resultsSheet   = "Results"
	questionsSheet = "Questions"
)

type exportService struct {
	repo   repositories.Repository
	logger *ServiceLogger
}

func NewExportService(deps Dependencies) ExportService {
	return &exportService{
		repo:   deps.Repo,
		logger: NewServiceLogger(deps.Logger, "export"),
	}
}

func (s *exportService) ExportResults(ctx context.Context, principal models.Principal, examID uint, w io.Writer) error {
	if _, err := loadTeacherExam(ctx, s.repo, nil, principal, examID, "export"); err != nil {
		return err
	}

	exam, err := s.repo.Exam().GetByIDWithQuestions(ctx, nil, examID)
	if err != nil {
		return notFound(err, ErrExamNotFound, "exam")
	}
	attempts, err := s.repo.Attempt().List(ctx, nil, repositories.AttemptFilters{ExamID: &examID})
	if err != nil {
		return fmt.Errorf("failed to list attempts: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	// Results sheet replaces the default one
	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("failed to create Excel sheet: %w", err)
	}

	headers := []interface{}{"Student", "Username", "Joined", "Started", "Finished", "Reason", "Score", "Pending"}
	for _, q := range exam.Questions {
		headers = append(headers, fmt.Sprintf("Q%d (%s, %d)", q.ID, q.Type, q.Marks))
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i, attempt := range attempts {
		responses, err := s.repo.Response().ListByAttempt(ctx, nil, attempt.ID)
		if err != nil {
			return fmt.Errorf("failed to list responses: %w", err)
		}

		row := attemptRow(attempt, responses, exam.Questions)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	if err := writeQuestionsSheet(f, exam.Questions); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write Excel file: %w", err)
	}

	s.logger.For(ctx).InfoContext(ctx, "Exported exam results",
		"exam_id", examID,
		"attempts", len(attempts))
	return nil
}

func attemptRow(attempt *models.Attempt, responses []*models.Response, questions []models.Question) []interface{} {
	values := make([]models.Response, 0, len(responses))
	types := make(map[uint]models.QuestionType, len(responses))
	marks := make(map[uint]*models.Response, len(responses))
	for _, r := range responses {
		values = append(values, *r)
		marks[r.QuestionID] = r
		if r.Question != nil {
			types[r.QuestionID] = r.Question.Type
		}
	}
	breakdown := grading.Aggregate(values, types)

	name, username := "", ""
	if attempt.Student != nil {
		name, username = attempt.Student.FullName, attempt.Student.Username
	}
	reason := ""
	if attempt.FinishReason != nil {
		reason = string(*attempt.FinishReason)
	}

	row := []interface{}{
		name,
		username,
		formatTime(&attempt.JoinedAt),
		formatTime(attempt.StartedAt),
		formatTime(attempt.FinishedAt),
		reason,
		attempt.Score,
		breakdown.Pending,
	}
	for _, q := range questions {
		r, ok := marks[q.ID]
		switch {
		case !ok:
			row = append(row, "")
		case !r.Evaluated:
			row = append(row, "pending")
		default:
			row = append(row, r.MarksObtained)
		}
	}
	return row
}

func writeQuestionsSheet(f *excelize.File, questions []models.Question) error {
	if _, err := f.NewSheet(questionsSheet); err != nil {
		return fmt.Errorf("failed to create Excel sheet: %w", err)
	}

	headers := []interface{}{"ID", "Type", "Text", "Marks", "Correct Choice"}
	if err := f.SetSheetRow(questionsSheet, "A1", &headers); err != nil {
		return err
	}

	for i, q := range questions {
		correct := ""
		for _, c := range q.Choices {
			if c.IsCorrect {
				correct = c.Text
				break
			}
		}
		row := []interface{}{q.ID, string(q.Type), q.Text, q.Marks, correct}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(questionsSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
