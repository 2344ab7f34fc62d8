package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-manage-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func expectCourseLock(mock sqlmock.Sqlmock, courseID string, capacity, active int) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity FROM courses WHERE id = $1 FOR UPDATE")).
		WithArgs(courseID).
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(capacity))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = 'ACTIVE'")).
		WithArgs(courseID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(active))
}

func TestEnrollmentRepositoryBulkEnrollSkipsExisting(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectCourseLock(mock, "course-1", 0, 2)
	mock.ExpectExec("INSERT INTO enrollments").WithArgs(sqlmock.AnyArg(), "course-1", "stu-a", nil, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO enrollments").WithArgs(sqlmock.AnyArg(), "course-1", "stu-b", nil, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO enrollments").WithArgs(sqlmock.AnyArg(), "course-1", "stu-c", nil, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrolled, skipped, err := repo.BulkEnroll(context.Background(), "course-1", []string{"stu-a", "stu-b", "stu-c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"stu-c"}, enrolled)
	assert.Equal(t, []string{"stu-a", "stu-b"}, skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryBulkEnrollNothingNewRollsBack(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectCourseLock(mock, "course-1", 0, 2)
	mock.ExpectExec("INSERT INTO enrollments").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO enrollments").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	enrolled, skipped, err := repo.BulkEnroll(context.Background(), "course-1", []string{"stu-a", "stu-b"}, nil)
	require.NoError(t, err)
	assert.Empty(t, enrolled)
	assert.Equal(t, []string{"stu-a", "stu-b"}, skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryBulkEnrollCapacity(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectCourseLock(mock, "course-1", 2, 1)
	mock.ExpectExec("INSERT INTO enrollments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO enrollments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	_, _, err := repo.BulkEnroll(context.Background(), "course-1", []string{"stu-a", "stu-b"}, nil)
	assert.ErrorIs(t, err, ErrCourseFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryEnrollAlreadyActive(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	expectCourseLock(mock, "course-1", 0, 1)
	mock.ExpectQuery("INSERT INTO enrollments").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.Enroll(context.Background(), "course-1", "stu-a", nil)
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryEnrollUnknownCourse(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT capacity FROM courses").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Enroll(context.Background(), "missing", "stu-a", nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryEnrollReturnsRow(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	by := "teacher-1"
	mock.ExpectBegin()
	expectCourseLock(mock, "course-1", 30, 3)
	mock.ExpectQuery("INSERT INTO enrollments").
		WithArgs(sqlmock.AnyArg(), "course-1", "stu-a", by, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "student_id", "status", "enrolled_by", "enrolled_at", "updated_at"}).
			AddRow("enr-1", "course-1", "stu-a", "ACTIVE", by, now, now))
	mock.ExpectCommit()

	enrollment, err := repo.Enroll(context.Background(), "course-1", "stu-a", &by)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDropNotActive(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = 'DROPPED'")).
		WithArgs("course-1", "stu-a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Drop(context.Background(), "course-1", "stu-a"), sql.ErrNoRows)
}
