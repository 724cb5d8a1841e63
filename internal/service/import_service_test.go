package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/speaklab/booking-api/internal/models"
	appErrors "github.com/speaklab/booking-api/pkg/errors"
)

type mockImportUserStore struct {
	existing map[string]bool
	created  []*models.User
}

func (m *mockImportUserStore) FindByID(_ context.Context, _ string) (*models.User, error) {
	return nil, sql.ErrNoRows
}

func (m *mockImportUserStore) ExistsByEmail(_ context.Context, email string, _ string) (bool, error) {
	return m.existing[email], nil
}

func (m *mockImportUserStore) List(_ context.Context, _ models.UserFilter) ([]models.UserDetail, int, error) {
	return nil, 0, nil
}

func (m *mockImportUserStore) Create(_ context.Context, user *models.User) error {
	user.ID = "imported"
	m.created = append(m.created, user)
	return nil
}

func (m *mockImportUserStore) Update(_ context.Context, _ *models.User) error { return nil }

func (m *mockImportUserStore) Deactivate(_ context.Context, _ string) error { return nil }

func (m *mockImportUserStore) RevokeUserRefreshTokens(_ context.Context, _ string) error { return nil }

type mockBranchLookup struct {
	branch *models.Branch
}

func (m *mockBranchLookup) FindByID(_ context.Context, _ string) (*models.Branch, error) {
	if m.branch == nil {
		return nil, sql.ErrNoRows
	}
	return m.branch, nil
}

func newImportFixture(store *mockImportUserStore, maxRows int) (*ImportService, *stubAudit) {
	audit := &stubAudit{}
	branches := &mockBranchLookup{branch: &models.Branch{ID: testBranchID, Active: true}}
	svc := NewImportService(store, branches, audit, nil, maxRows, zap.NewNop())
	return svc, audit
}

func importAdminClaims() *models.JWTClaims {
	branch := testBranchID
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleBranchAdmin, BranchID: &branch}
}

func TestImportStudentsCreatesAccounts(t *testing.T) {
	store := &mockImportUserStore{}
	svc, audit := newImportFixture(store, 100)

	csvData := strings.Join([]string{
		"email,full_name,phone,password",
		"one@example.com,Student One,+123456,secret123",
		"two@example.com,Student Two,,",
	}, "\n")

	result, err := svc.ImportStudents(context.Background(), importAdminClaims(), "", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Skipped)
	require.Len(t, store.created, 2)
	assert.Equal(t, models.RoleStudent, store.created[0].Role)
	require.NotNil(t, store.created[0].BranchID)
	assert.Equal(t, testBranchID, *store.created[0].BranchID)
	assert.NotEmpty(t, store.created[1].PasswordHash)
	assert.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionImport, audit.entries[0].Action)
}

func TestImportStudentsCollectsRowErrors(t *testing.T) {
	store := &mockImportUserStore{existing: map[string]bool{"taken@example.com": true}}
	svc, _ := newImportFixture(store, 100)

	csvData := strings.Join([]string{
		"email,full_name",
		"not-an-email,Student One",
		"taken@example.com,Student Two",
		"ok@example.com,Student Three",
	}, "\n")

	result, err := svc.ImportStudents(context.Background(), importAdminClaims(), "", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 2, result.Skipped)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 1, result.Errors[0].Row)
	assert.Equal(t, 2, result.Errors[1].Row)
	assert.Contains(t, result.Errors[1].Reason, "already registered")
}

func TestImportStudentsRowLimit(t *testing.T) {
	store := &mockImportUserStore{}
	svc, _ := newImportFixture(store, 2)

	csvData := strings.Join([]string{
		"a@example.com,Student A",
		"b@example.com,Student B",
		"c@example.com,Student C",
	}, "\n")

	_, err := svc.ImportStudents(context.Background(), importAdminClaims(), "", strings.NewReader(csvData))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestImportStudentsStudentForbidden(t *testing.T) {
	store := &mockImportUserStore{}
	svc, _ := newImportFixture(store, 100)

	_, err := svc.ImportStudents(context.Background(), studentClaims(), "", strings.NewReader("a@example.com,Student A"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestImportStudentsSuperAdminNeedsBranch(t *testing.T) {
	store := &mockImportUserStore{}
	svc, _ := newImportFixture(store, 100)

	_, err := svc.ImportStudents(context.Background(), adminClaims(), "", strings.NewReader("a@example.com,Student A"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
