package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Bursar store.
var Migrations = migrate.NewGroup("bursar")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_bursar_batches",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bursar_batches (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL DEFAULT '',
    course_id         TEXT NOT NULL DEFAULT '',
    teacher_id        TEXT NOT NULL DEFAULT '',
    schedule          TEXT NOT NULL DEFAULT '',
    start_date        TIMESTAMPTZ,
    end_date          TIMESTAMPTZ,
    max_students      INT NOT NULL DEFAULT 30 CHECK (max_students > 0),
    enrolled_students JSONB NOT NULL DEFAULT '[]',
    status            TEXT NOT NULL DEFAULT 'upcoming',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (jsonb_array_length(enrolled_students) <= max_students)
);

CREATE INDEX IF NOT EXISTS idx_bursar_batches_course ON bursar_batches (course_id, status);
CREATE INDEX IF NOT EXISTS idx_bursar_batches_created ON bursar_batches (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bursar_batches`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bursar_students",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bursar_students (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    email      TEXT NOT NULL,
    phone      TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bursar_students_email ON bursar_students (email);

CREATE TABLE IF NOT EXISTS bursar_student_profiles (
    id                TEXT PRIMARY KEY,
    student_id        TEXT NOT NULL,
    enrollment_number TEXT NOT NULL,
    batch_id          TEXT NOT NULL DEFAULT '',
    enrolled_courses  JSONB NOT NULL DEFAULT '[]',
    status            TEXT NOT NULL DEFAULT 'active',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bursar_profiles_student ON bursar_student_profiles (student_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_bursar_profiles_enrollment_number ON bursar_student_profiles (enrollment_number);
CREATE INDEX IF NOT EXISTS idx_bursar_profiles_batch ON bursar_student_profiles (batch_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS bursar_student_profiles;
DROP TABLE IF EXISTS bursar_students;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bursar_fee_structures",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bursar_fee_structures (
    id             TEXT PRIMARY KEY,
    student_id     TEXT NOT NULL,
    course_id      TEXT NOT NULL DEFAULT '',
    batch_id       TEXT NOT NULL,
    currency       TEXT NOT NULL,
    total_fee      BIGINT NOT NULL CHECK (total_fee >= 0),
    discount       BIGINT NOT NULL DEFAULT 0 CHECK (discount >= 0 AND discount <= total_fee),
    paid_amount    BIGINT NOT NULL DEFAULT 0,
    pending_amount BIGINT NOT NULL DEFAULT 0 CHECK (pending_amount >= 0),
    installments   JSONB NOT NULL DEFAULT '[]',
    version        BIGINT NOT NULL DEFAULT 1,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bursar_fee_structures_enrollment ON bursar_fee_structures (student_id, batch_id);
CREATE INDEX IF NOT EXISTS idx_bursar_fee_structures_pending ON bursar_fee_structures (id) WHERE pending_amount > 0;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bursar_fee_structures`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bursar_fee_payments",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bursar_fee_payments (
    id                 TEXT PRIMARY KEY,
    fee_structure_id   TEXT NOT NULL REFERENCES bursar_fee_structures (id),
    student_id         TEXT NOT NULL,
    amount             BIGINT NOT NULL CHECK (amount > 0),
    currency           TEXT NOT NULL,
    payment_method     TEXT NOT NULL,
    transaction_id     TEXT NOT NULL DEFAULT '',
    installment_number INT NOT NULL DEFAULT 1,
    receipt_number     TEXT NOT NULL,
    idempotency_key    TEXT NOT NULL DEFAULT '',
    notes              TEXT NOT NULL DEFAULT '',
    paid_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bursar_fee_payments_receipt ON bursar_fee_payments (receipt_number);
CREATE UNIQUE INDEX IF NOT EXISTS idx_bursar_fee_payments_idempotency ON bursar_fee_payments (fee_structure_id, idempotency_key) WHERE idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_bursar_fee_payments_student ON bursar_fee_payments (student_id, paid_at DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bursar_fee_payments`)
				return err
			},
		},
	)
}
