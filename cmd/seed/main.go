package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresched/appointment-engine/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	hospitalIDs, err := seedHospitals(context.Background(), pool, 10)
	if err != nil {
		log.Fatalf("seed hospitals: %v", err)
	}
	if err := seedDoctors(context.Background(), pool, hospitalIDs, 100); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedResources(context.Background(), pool, hospitalIDs); err != nil {
		log.Fatalf("seed resources: %v", err)
	}
	if err := seedAdmins(context.Background(), pool, 5); err != nil {
		log.Fatalf("seed admins: %v", err)
	}

	log.Println("seed complete")
}

func seedHospitals(ctx context.Context, pool *pgxpool.Pool, count int) ([]int64, error) {
	log.Printf("seeding %d hospitals", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO hospitals (name, address, city, state, zip_code, phone, email)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, gofakeit.Company()+" Hospital", gofakeit.Street(), gofakeit.City(),
			gofakeit.StateAbr(), gofakeit.Zip(), gofakeit.Phone(), gofakeit.Email()).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("hospitals seeded")
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, hospitalIDs []int64, count int) error {
	log.Printf("seeding %d doctors", count)

	specializations := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}
	durations := []int{15, 20, 30, 45, 60}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		hospitalID := hospitalIDs[gofakeit.Number(0, len(hospitalIDs)-1)]
		specialty := specializations[gofakeit.Number(0, len(specializations)-1)]
		duration := durations[gofakeit.Number(0, len(durations)-1)]

		var doctorID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO doctors (hospital_id, first_name, last_name, specialization, phone, email, consultation_duration)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, hospitalID, gofakeit.FirstName(), gofakeit.LastName(), specialty,
			gofakeit.Phone(), gofakeit.Email(), duration).Scan(&doctorID)
		if err != nil {
			return err
		}

		// Weekday availability, morning and afternoon blocks.
		for day := 0; day < 5; day++ {
			if gofakeit.Number(0, 9) == 0 {
				continue // the occasional day off
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO doctor_availability (doctor_id, day_of_week, start_time, end_time, is_available)
				VALUES ($1, $2, '09:00', '12:00', TRUE),
				       ($1, $2, '13:00', '17:00', TRUE)
			`, doctorID, day)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			dob := gofakeit.DateRange(
				time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC),
			)
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (first_name, last_name, date_of_birth, gender, phone, email)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, gofakeit.FirstName(), gofakeit.LastName(), dob,
				gofakeit.Gender(), gofakeit.Phone(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

func seedResources(ctx context.Context, pool *pgxpool.Pool, hospitalIDs []int64) error {
	log.Println("seeding resources")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, hospitalID := range hospitalIDs {
		for room := 1; room <= 20; room++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO resources (hospital_id, name, resource_type, is_available)
				VALUES ($1, $2, 'room', TRUE)
			`, hospitalID, gofakeit.LetterN(1)+"-"+gofakeit.DigitN(3))
			if err != nil {
				return err
			}
		}
		for i := 0; i < 5; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO resources (hospital_id, name, resource_type, is_available)
				VALUES ($1, $2, 'equipment', TRUE)
			`, hospitalID, gofakeit.ProductName())
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("resources seeded")
	return nil
}

func seedAdmins(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d admins", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO admins (username, email, password_hash)
			VALUES ($1, $2, $3)
		`, gofakeit.Username(), gofakeit.Email(), gofakeit.UUID())
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("admins seeded")
	return nil
}
