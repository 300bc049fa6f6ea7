package postgres

import (
	"context"

	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB

	user       repositories.UserRepository
	subject    repositories.SubjectRepository
	exam       repositories.ExamRepository
	question   repositories.QuestionRepository
	attempt    repositories.AttemptRepository
	response   repositories.ResponseRepository
	gradeAudit repositories.GradeAuditRepository
}

// NewRepository wires every gorm repository over db. Works with postgres and sqlite dialects.
func NewRepository(db *gorm.DB) repositories.Repository {
	return &repository{
		db:         db,
		user:       NewUserPostgreSQL(db),
		subject:    NewSubjectPostgreSQL(db),
		exam:       NewExamPostgreSQL(db),
		question:   NewQuestionPostgreSQL(db),
		attempt:    NewAttemptPostgreSQL(db),
		response:   NewResponsePostgreSQL(db),
		gradeAudit: NewGradeAuditPostgreSQL(db),
	}
}

func (r *repository) User() repositories.UserRepository             { return r.user }
func (r *repository) Subject() repositories.SubjectRepository       { return r.subject }
func (r *repository) Exam() repositories.ExamRepository             { return r.exam }
func (r *repository) Question() repositories.QuestionRepository     { return r.question }
func (r *repository) Attempt() repositories.AttemptRepository       { return r.attempt }
func (r *repository) Response() repositories.ResponseRepository     { return r.response }
func (r *repository) GradeAudit() repositories.GradeAuditRepository { return r.gradeAudit }

func (r *repository) DB() *gorm.DB {
	return r.db
}

// WithTransaction executes fn within a transaction
func (r *repository) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func (r *repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// getDB returns tx when the caller is inside a transaction
func getDB(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}
