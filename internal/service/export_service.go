package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	"github.com/speaklab/booking-api/pkg/export"
	"github.com/speaklab/booking-api/pkg/storage"
)

type bookingReportSource interface {
	List(ctx context.Context, filter models.BookingFilter) ([]models.BookingDetail, int, error)
}

type assessmentReportSource interface {
	List(ctx context.Context, filter models.AssessmentFilter) ([]models.AssessmentDetail, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	bookings    bookingReportSource
	assessments assessmentReportSource
	storage     fileStorage
	csv         csvRenderer
	pdf         pdfRenderer
	signer      *storage.SignedURLSigner
	logger      *zap.Logger
	cfg         ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(bookings bookingReportSource, assessments assessmentReportSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		bookings:    bookings,
		assessments: assessments,
		storage:     store,
		csv:         csv,
		pdf:         pdf,
		signer:      signer,
		logger:      logger,
		cfg:         cfg,
	}
}

// Generate builds the dataset for the job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/reports/download/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to the configured ResultTTL).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	branchPart := sanitizeFilename(job.Params.BranchID)
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), branchPart, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "all"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeBookings:
		return s.buildBookingDataset(ctx, job.Params)
	case models.ReportTypeAssessments:
		return s.buildAssessmentDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildBookingDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	filter := models.BookingFilter{BranchID: params.BranchID, PageSize: 100}
	if from, err := parseReportDate(params.DateFrom); err == nil {
		filter.DateFrom = from
	}
	if to, err := parseReportDate(params.DateTo); err == nil {
		filter.DateTo = to
	}

	headers := []string{"Booking ID", "Date", "Start", "End", "Branch", "Teacher", "Student", "Status", "Created At"}
	dataRows := make([]map[string]string, 0)
	for page := 1; ; page++ {
		filter.Page = page
		rows, total, err := s.bookings.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, row := range rows {
			dataRows = append(dataRows, map[string]string{
				"Booking ID": row.ID,
				"Date":       row.SlotDate.Format("2006-01-02"),
				"Start":      row.StartTime,
				"End":        row.EndTime,
				"Branch":     row.BranchName,
				"Teacher":    row.TeacherName,
				"Student":    row.StudentName,
				"Status":     string(row.Status),
				"Created At": formatReportTime(row.CreatedAt),
			})
		}
		if len(dataRows) >= total || len(rows) == 0 {
			break
		}
	}

	dataset := export.Dataset{Headers: headers, Rows: dataRows}
	return dataset, "Bookings Report", nil
}

func (s *ExportService) buildAssessmentDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	filter := models.AssessmentFilter{BranchID: params.BranchID, PageSize: 100}
	if from, err := parseReportDate(params.DateFrom); err == nil {
		filter.DateFrom = from
	}
	if to, err := parseReportDate(params.DateTo); err == nil {
		filter.DateTo = to
	}

	headers := []string{"Assessment ID", "Date", "Student", "Teacher", "Overall", "Fluency", "Lexical", "Grammar", "Pronunciation", "Recorded At"}
	dataRows := make([]map[string]string, 0)
	for page := 1; ; page++ {
		filter.Page = page
		rows, total, err := s.assessments.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, row := range rows {
			dataRows = append(dataRows, map[string]string{
				"Assessment ID": row.ID,
				"Date":          row.SlotDate.Format("2006-01-02"),
				"Student":       row.StudentName,
				"Teacher":       row.TeacherName,
				"Overall":       fmt.Sprintf("%.1f", row.OverallBand),
				"Fluency":       fmt.Sprintf("%.1f", row.FluencyBand),
				"Lexical":       fmt.Sprintf("%.1f", row.LexicalBand),
				"Grammar":       fmt.Sprintf("%.1f", row.GrammarBand),
				"Pronunciation": fmt.Sprintf("%.1f", row.PronunciationBand),
				"Recorded At":   formatReportTime(row.CreatedAt),
			})
		}
		if len(dataRows) >= total || len(rows) == 0 {
			break
		}
	}

	dataset := export.Dataset{Headers: headers, Rows: dataRows}
	return dataset, "Assessments Report", nil
}

func parseReportDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty date")
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatReportTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
