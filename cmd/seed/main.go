package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sisalud/appointment-notifier/internal/db"
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

	if err := seedClassifications(context.Background(), pool, 40); err != nil {
		log.Fatalf("seed classifications: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func seedClassifications(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d classifications with templates", count)

	services := []string{
		"Clinica Medica",
		"Pediatria",
		"Odontologia",
		"Cardiologia",
		"Dermatologia",
		"Ginecologia",
		"Oftalmologia",
		"Traumatologia",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 1; i <= count; i++ {
		service := services[gofakeit.Number(0, len(services)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO classifications (id, facility_id, service_id, specialty_id, service_name, specialty_name)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, i, gofakeit.Number(1, 12), gofakeit.Number(1, 20), gofakeit.Number(1, 30), service, service)
		if err != nil {
			return err
		}

		var reminderTemplateID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO templates (body)
			VALUES ($1)
			RETURNING id
		`, ":calendar: Hola {nompac}! Te recordamos tu turno de {especialidad} el {fecha} a las {horaturno} en {efector}, {calle} {altura}.").Scan(&reminderTemplateID)
		if err != nil {
			return err
		}

		var confirmTemplateID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO templates (body)
			VALUES ($1)
			RETURNING id
		`, "Hola {nompac} {apepac}! Tenes un turno confirmado con {nomprof} {apeprof} el {fecha} a las {horaturno}.").Scan(&confirmTemplateID)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO template_configs
				(classification_id, confirmation_enabled, confirmation_template_id,
				 reminder_enabled, reminder_template_id, lead_days)
			VALUES ($1, true, $2, true, $3, $4)
		`, i, confirmTemplateID, reminderTemplateID, gofakeit.Number(0, 3))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("classifications seeded")
	return nil
}

func seedAppointments(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d appointments", count)

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
			date := time.Now().AddDate(0, 0, gofakeit.Number(0, 14))
			timeOfDay := fmt.Sprintf("%02d:%02d", gofakeit.Number(7, 18), gofakeit.Number(0, 59))

			_, err := tx.Exec(ctx, `
				INSERT INTO appointments
					(external_id, patient_id, status, date, time_of_day, classification_id,
					 created_at, updated_at)
				VALUES ($1, $2, 1, $3, $4, $5, now(), now())
			`, 100000+i, gofakeit.Number(1, 50000), date, timeOfDay, gofakeit.Number(1, 40))
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Printf("appointments seeded: %d/%d", end, count)
	}

	return nil
}
