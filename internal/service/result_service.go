package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/model"
	"github.com/xuri/excelize/v2"
)

// ResultArchive reads results persisted after a classroom ended.
type ResultArchive interface {
	ListByClassroom(ctx context.Context, classroomID, teacherID string) ([]model.StudentResult, error)
}

// ResultService serves classroom results from the live store, or from the
// archive once the live classroom is gone.
type ResultService struct {
	classrooms *ClassroomService
	archive    ResultArchive
	log        zerolog.Logger
}

// NewResultService creates a new ResultService. archive may be nil.
func NewResultService(classrooms *ClassroomService, archive ResultArchive, log zerolog.Logger) *ResultService {
	return &ResultService{
		classrooms: classrooms,
		archive:    archive,
		log:        logger.Component(log, "result_service"),
	}
}

// ClassroomResults returns the per-student results of a teacher's classroom,
// best score first. Results of an active classroom are provisional.
func (s *ResultService) ClassroomResults(ctx context.Context, classroomID, teacherID string) ([]model.StudentResult, error) {
	c, err := s.classrooms.GetOwnedSession(ctx, classroomID, teacherID)
	if err == nil {
		return Results(c), nil
	}
	if !errors.Is(err, exam.ErrNotFound) || s.archive == nil {
		return nil, err
	}

	results, err := s.archive.ListByClassroom(ctx, classroomID, teacherID)
	if err != nil {
		return nil, fmt.Errorf("list archived results: %w", err)
	}
	if len(results) == 0 {
		return nil, exam.ErrNotFound
	}
	s.log.Debug().Str("classroom_id", classroomID).Msg("Serving archived results")
	return results, nil
}

var resultHeaders = []string{
	"Student ID", "Student Name", "Score", "Total Questions", "Percentage", "Finished At",
}

var detailHeaders = []string{
	"Student Name", "Question ID", "Question", "Selected Answer", "Correct Answer", "Correct",
}

// ExportResults renders the results of a classroom as an Excel workbook with
// a summary sheet and a per-question sheet.
func (s *ResultService) ExportResults(ctx context.Context, classroomID, teacherID string) ([]byte, error) {
	results, err := s.ClassroomResults(ctx, classroomID, teacherID)
	if err != nil {
		return nil, err
	}
	return ResultsWorkbook(results)
}

// ResultsWorkbook builds the xlsx bytes for results.
func ResultsWorkbook(results []model.StudentResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summary, details = "Results", "Answers"

	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	if _, err := f.NewSheet(details); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}

	if err := writeRow(f, summary, 1, toCells(resultHeaders)); err != nil {
		return nil, err
	}
	if err := writeRow(f, details, 1, toCells(detailHeaders)); err != nil {
		return nil, err
	}

	detailRow := 2
	for i, res := range results {
		finished := ""
		if res.FinishedAt != nil {
			finished = res.FinishedAt.Format("2006-01-02 15:04:05")
		}
		pct := 0.0
		if res.TotalQuestions > 0 {
			pct = float64(res.Score) * 100 / float64(res.TotalQuestions)
		}
		row := []interface{}{res.StudentID, res.StudentName, res.Score, res.TotalQuestions, pct, finished}
		if err := writeRow(f, summary, i+2, row); err != nil {
			return nil, err
		}

		for _, d := range res.Answers {
			correct := "No"
			if d.IsCorrect {
				correct = "Yes"
			}
			row := []interface{}{res.StudentName, d.QuestionID, d.Question, d.SelectedText, d.CorrectText, correct}
			if err := writeRow(f, details, detailRow, row); err != nil {
				return nil, err
			}
			detailRow++
		}
	}

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toCells(headers []string) []interface{} {
	out := make([]interface{}, len(headers))
	for i, h := range headers {
		out[i] = h
	}
	return out
}
