package service

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/repository"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAudit) Record(ctx context.Context, entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeCourseRepo struct {
	courses   map[string]*models.Course
	createErr error
}

func newFakeCourseRepo(courses ...*models.Course) *fakeCourseRepo {
	repo := &fakeCourseRepo{courses: map[string]*models.Course{}}
	for _, c := range courses {
		repo.courses[c.ID] = c
	}
	return repo
}

func (f *fakeCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if f.createErr != nil {
		return f.createErr
	}
	copy := *course
	f.courses[course.ID] = &copy
	return nil
}

func (f *fakeCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *c
	return &copy, nil
}

func (f *fakeCourseRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	for _, c := range f.courses {
		if c.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, c := range f.courses {
		if filter.InstructorID != "" && c.InstructorID != filter.InstructorID {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (f *fakeCourseRepo) Update(ctx context.Context, course *models.Course) error {
	if _, ok := f.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *course
	f.courses[course.ID] = &copy
	return nil
}

func (f *fakeCourseRepo) UpdateStudyPlan(ctx context.Context, id string, plan *models.StudyPlan) error {
	c, ok := f.courses[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.StudyPlan = plan
	return nil
}

func (f *fakeCourseRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.courses[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.courses, id)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sends map[string][]models.NotificationRequest
	err   error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sends: map[string][]models.NotificationRequest{}}
}

func (n *recordingNotifier) SendToUser(ctx context.Context, userID string, req models.NotificationRequest) (*models.SendResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	n.sends[userID] = append(n.sends[userID], req)
	return &models.SendResult{Outcome: models.RecipientOutcome{UserID: userID, Status: models.DeliveryOffline}}, nil
}

func (n *recordingNotifier) SendToUsers(ctx context.Context, userIDs []string, req models.NotificationRequest) (*models.FanoutResult, error) {
	result := &models.FanoutResult{}
	for _, id := range userIDs {
		res, err := n.SendToUser(ctx, id, req)
		if err != nil {
			return nil, err
		}
		result.Add(res.Outcome)
	}
	return result, nil
}

func (n *recordingNotifier) count(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sends[userID])
}

// fakeEnrollmentRepo mirrors the conditional upsert: active rows are skipped, dropped rows reactivate.
type fakeEnrollmentRepo struct {
	status   map[string]models.EnrollmentStatus
	capacity map[string]int
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{status: map[string]models.EnrollmentStatus{}, capacity: map[string]int{}}
}

func enrollmentKey(courseID, studentID string) string { return courseID + "/" + studentID }

func (f *fakeEnrollmentRepo) activeCount(courseID string) int {
	n := 0
	for k, st := range f.status {
		if st == models.EnrollmentStatusActive && strings.HasPrefix(k, courseID+"/") {
			n++
		}
	}
	return n
}

func (f *fakeEnrollmentRepo) Enroll(ctx context.Context, courseID, studentID string, enrolledBy *string) (*models.Enrollment, error) {
	enrolled, _, err := f.BulkEnroll(ctx, courseID, []string{studentID}, enrolledBy)
	if err != nil {
		return nil, err
	}
	if len(enrolled) == 0 {
		return nil, repository.ErrAlreadyActive
	}
	return &models.Enrollment{ID: "e-" + studentID, CourseID: courseID, StudentID: studentID, Status: models.EnrollmentStatusActive, EnrolledBy: enrolledBy}, nil
}

func (f *fakeEnrollmentRepo) BulkEnroll(ctx context.Context, courseID string, studentIDs []string, enrolledBy *string) ([]string, []string, error) {
	enrolled, skipped := []string{}, []string{}
	for _, id := range studentIDs {
		if f.status[enrollmentKey(courseID, id)] == models.EnrollmentStatusActive {
			skipped = append(skipped, id)
			continue
		}
		enrolled = append(enrolled, id)
	}
	if len(enrolled) == 0 {
		return enrolled, skipped, nil
	}
	if c := f.capacity[courseID]; c > 0 && f.activeCount(courseID)+len(enrolled) > c {
		return nil, nil, repository.ErrCourseFull
	}
	for _, id := range enrolled {
		f.status[enrollmentKey(courseID, id)] = models.EnrollmentStatusActive
	}
	return enrolled, skipped, nil
}

func (f *fakeEnrollmentRepo) Drop(ctx context.Context, courseID, studentID string) error {
	key := enrollmentKey(courseID, studentID)
	if f.status[key] != models.EnrollmentStatusActive {
		return sql.ErrNoRows
	}
	f.status[key] = models.EnrollmentStatusDropped
	return nil
}

func (f *fakeEnrollmentRepo) IsActive(ctx context.Context, courseID, studentID string) (bool, error) {
	return f.status[enrollmentKey(courseID, studentID)] == models.EnrollmentStatusActive, nil
}

func (f *fakeEnrollmentRepo) ActiveStudentIDs(ctx context.Context, courseID string) ([]string, error) {
	var ids []string
	for k, st := range f.status {
		if st == models.EnrollmentStatusActive && strings.HasPrefix(k, courseID+"/") {
			ids = append(ids, k[len(courseID)+1:])
		}
	}
	return ids, nil
}

func (f *fakeEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var out []models.EnrollmentDetail
	for k, st := range f.status {
		courseID, studentID, _ := strings.Cut(k, "/")
		if filter.CourseID != "" && courseID != filter.CourseID {
			continue
		}
		if filter.StudentID != "" && studentID != filter.StudentID {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: models.Enrollment{CourseID: courseID, StudentID: studentID, Status: st}})
	}
	return out, len(out), nil
}

type fakeAssignmentRepo struct {
	items    map[string]*models.Assignment
	statuses []models.AssignmentStatus
	overdue  map[string][]models.Assignment

	// onFind runs against the stored row after FindByID copied it.
	onFind func(stored *models.Assignment)
}

func newFakeAssignmentRepo(items ...*models.Assignment) *fakeAssignmentRepo {
	repo := &fakeAssignmentRepo{items: map[string]*models.Assignment{}, overdue: map[string][]models.Assignment{}}
	for _, a := range items {
		repo.items[a.ID] = a
	}
	return repo
}

func (f *fakeAssignmentRepo) Create(ctx context.Context, a *models.Assignment) error {
	if a.ID == "" {
		a.ID = "assignment-" + strconv.Itoa(len(f.items)+1)
	}
	copy := *a
	f.items[a.ID] = &copy
	return nil
}

func (f *fakeAssignmentRepo) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	a, ok := f.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *a
	if f.onFind != nil {
		f.onFind(a)
	}
	return &copy, nil
}

func (f *fakeAssignmentRepo) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	var out []models.Assignment
	for _, a := range f.items {
		if filter.CourseID == "" || a.CourseID == filter.CourseID {
			out = append(out, *a)
		}
	}
	return out, len(out), nil
}

func (f *fakeAssignmentRepo) ListOverdueForStudent(ctx context.Context, studentID string, now time.Time) ([]models.Assignment, error) {
	return f.overdue["student:"+studentID], nil
}

func (f *fakeAssignmentRepo) ListOverdueForInstructor(ctx context.Context, instructorID string, now time.Time) ([]models.Assignment, error) {
	return f.overdue["instructor:"+instructorID], nil
}

func (f *fakeAssignmentRepo) Update(ctx context.Context, a *models.Assignment) error {
	if _, ok := f.items[a.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *a
	f.items[a.ID] = &copy
	return nil
}

func (f *fakeAssignmentRepo) AdvanceStatus(ctx context.Context, id string, from, to models.AssignmentStatus) (bool, error) {
	a, ok := f.items[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	f.statuses = append(f.statuses, to)
	return true, nil
}

func (f *fakeAssignmentRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.items, id)
	return nil
}

type fakeSubmissionRepo struct {
	items map[string]*models.Submission
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{items: map[string]*models.Submission{}}
}

func (f *fakeSubmissionRepo) Create(ctx context.Context, s *models.Submission) error {
	for _, existing := range f.items {
		if existing.AssignmentID == s.AssignmentID && existing.StudentID == s.StudentID {
			return repository.ErrAlreadySubmitted
		}
	}
	if s.ID == "" {
		s.ID = "submission-" + strconv.Itoa(len(f.items)+1)
	}
	copy := *s
	f.items[s.ID] = &copy
	return nil
}

func (f *fakeSubmissionRepo) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	s, ok := f.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *s
	return &copy, nil
}

func (f *fakeSubmissionRepo) ListByAssignment(ctx context.Context, assignmentID string) ([]models.SubmissionDetail, error) {
	var out []models.SubmissionDetail
	for _, s := range f.items {
		if s.AssignmentID == assignmentID {
			out = append(out, models.SubmissionDetail{Submission: *s})
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) MarkGraded(ctx context.Context, id string) error {
	s, ok := f.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = models.SubmissionStatusGraded
	return nil
}

type fakeQuizRepo struct {
	items map[string]*models.Quiz
}

func newFakeQuizRepo(items ...*models.Quiz) *fakeQuizRepo {
	repo := &fakeQuizRepo{items: map[string]*models.Quiz{}}
	for _, q := range items {
		repo.items[q.ID] = q
	}
	return repo
}

func (f *fakeQuizRepo) Create(ctx context.Context, q *models.Quiz) error {
	if q.ID == "" {
		q.ID = "quiz-" + strconv.Itoa(len(f.items)+1)
	}
	copy := *q
	f.items[q.ID] = &copy
	return nil
}

func (f *fakeQuizRepo) FindByID(ctx context.Context, id string) (*models.Quiz, error) {
	q, ok := f.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *q
	return &copy, nil
}

func (f *fakeQuizRepo) List(ctx context.Context, filter models.QuizFilter) ([]models.Quiz, int, error) {
	var out []models.Quiz
	for _, q := range f.items {
		if filter.CourseID != "" && q.CourseID != filter.CourseID {
			continue
		}
		if filter.PublishedOnly && !q.IsPublished {
			continue
		}
		out = append(out, *q)
	}
	return out, len(out), nil
}

func (f *fakeQuizRepo) Update(ctx context.Context, q *models.Quiz) error {
	if _, ok := f.items[q.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *q
	f.items[q.ID] = &copy
	return nil
}

func (f *fakeQuizRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.items, id)
	return nil
}

// fakeAttemptRepo applies the attempt allowance the way the conditional insert does.
type fakeAttemptRepo struct {
	items []*models.QuizAttempt
}

func (f *fakeAttemptRepo) CreateNext(ctx context.Context, attempt *models.QuizAttempt, allowed int) error {
	n := 0
	for _, a := range f.items {
		if a.QuizID == attempt.QuizID && a.StudentID == attempt.StudentID {
			n++
		}
	}
	if n >= allowed {
		return repository.ErrAttemptLimit
	}
	if attempt.ID == "" {
		attempt.ID = "attempt-" + strconv.Itoa(len(f.items)+1)
	}
	attempt.AttemptNumber = n + 1
	attempt.Answers = models.QuizAnswers{}
	attempt.Results = models.QuizResults{}
	copy := *attempt
	f.items = append(f.items, &copy)
	return nil
}

func (f *fakeAttemptRepo) FindByID(ctx context.Context, id string) (*models.QuizAttempt, error) {
	for _, a := range f.items {
		if a.ID == id {
			copy := *a
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAttemptRepo) FindOpen(ctx context.Context, quizID, studentID string) (*models.QuizAttempt, error) {
	for i := len(f.items) - 1; i >= 0; i-- {
		a := f.items[i]
		if a.QuizID == quizID && a.StudentID == studentID && a.SubmittedAt == nil {
			copy := *a
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAttemptRepo) Submit(ctx context.Context, attempt *models.QuizAttempt) error {
	for _, a := range f.items {
		if a.ID == attempt.ID {
			if a.SubmittedAt != nil {
				return repository.ErrAttemptClosed
			}
			*a = *attempt
			return nil
		}
	}
	return repository.ErrAttemptClosed
}

func (f *fakeAttemptRepo) ListByQuiz(ctx context.Context, quizID, studentID string) ([]models.QuizAttempt, error) {
	var out []models.QuizAttempt
	for _, a := range f.items {
		if a.QuizID == quizID && (studentID == "" || a.StudentID == studentID) {
			out = append(out, *a)
		}
	}
	return out, nil
}

type recordingGrader struct {
	calls int
	err   error
}

func (g *recordingGrader) CreateFromQuizAttempt(ctx context.Context, attempt *models.QuizAttempt, quiz *models.Quiz) (*models.Grade, bool, error) {
	if g.err != nil {
		return nil, false, g.err
	}
	g.calls++
	return &models.Grade{ID: "grade-" + attempt.ID, StudentID: attempt.StudentID, CourseID: quiz.CourseID}, g.calls == 1, nil
}

type countingMetrics struct {
	submissions int
}

func (m *countingMetrics) RecordQuizSubmission() { m.submissions++ }

func (f *fakeFileRepo) CountOwned(ctx context.Context, ids []string, userID string) (int, error) {
	n := 0
	for _, id := range ids {
		if file, ok := f.items[id]; ok && file.UploadedBy == userID {
			n++
		}
	}
	return n, nil
}
