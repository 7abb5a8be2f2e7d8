package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/klinikgigi/queue-engine/internal/api"
	"github.com/klinikgigi/queue-engine/internal/app"
	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/assignment"
	"github.com/klinikgigi/queue-engine/internal/clock"
	"github.com/klinikgigi/queue-engine/internal/config"
	"github.com/klinikgigi/queue-engine/internal/frontdesk"
	"github.com/klinikgigi/queue-engine/internal/lifecycle"
	"github.com/klinikgigi/queue-engine/internal/queue"
	"github.com/klinikgigi/queue-engine/internal/sweeper"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

func main() {
	rooms := flag.Int("rooms", 3, "treatment rooms per clinic")
	dentists := flag.Int("dentists", 4, "dentists per clinic")
	perClinic := flag.Int("appointments", 40, "appointments per clinic, spread over today and tomorrow")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "seed")
	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, pool, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedResources(ctx, store, *rooms, *dentists); err != nil {
		logger.Error("seed resources", "error", err)
		os.Exit(1)
	}

	clk := clock.System()
	machine := lifecycle.NewMachine(store, queue.NewLedger(clk, cfg.Location()),
		lifecycle.WithClock(clk), lifecycle.WithLogger(logger))
	svc := frontdesk.NewService(machine, assignment.NewPolicy(machine, logger, nil), sweeper.New(machine, clk, logger), clk, logger)

	if err := seedAppointments(ctx, svc, cfg.Location(), *perClinic); err != nil {
		logger.Error("seed appointments", "error", err)
		os.Exit(1)
	}

	printStaffTokens(cfg.StaffJWTSecret)
	logger.Info("seed complete")
}

func seedResources(ctx context.Context, store appointment.Store, rooms, dentists int) error {
	return store.WithTx(ctx, func(ctx context.Context, q appointment.Queries) error {
		for _, c := range appointment.Clinics() {
			for i := 1; i <= rooms; i++ {
				if err := q.CreateRoom(ctx, &appointment.Room{
					Clinic:   c.Location,
					Name:     fmt.Sprintf("Bilik %d", i),
					Capacity: 1,
				}); err != nil {
					return fmt.Errorf("room %s/%d: %w", c.Location, i, err)
				}
			}
			for i := 0; i < dentists; i++ {
				if err := q.CreateDentist(ctx, &appointment.Dentist{
					Clinic: c.Location,
					Name:   "Dr. " + gofakeit.Name(),
					Phone:  gofakeit.Phone(),
				}); err != nil {
					return fmt.Errorf("dentist %s/%d: %w", c.Location, i, err)
				}
			}
		}
		return nil
	})
}

// seedAppointments books half of each clinic's appointments for today's
// remaining hours and half for tomorrow, through the same path as the API.
func seedAppointments(ctx context.Context, svc *frontdesk.Service, loc *time.Location, perClinic int) error {
	now := time.Now().In(loc)
	tomorrow := clock.Day(now, loc).AddDate(0, 0, 1).Add(9 * time.Hour)

	for _, c := range appointment.Clinics() {
		for i := 0; i < perClinic; i++ {
			at := tomorrow.Add(time.Duration(gofakeit.Number(0, 16)) * 30 * time.Minute)
			if i%2 == 0 {
				at = now.Add(time.Duration(gofakeit.Number(1, 12)) * 15 * time.Minute)
			}
			_, err := svc.Book(ctx, frontdesk.BookingRequest{
				PatientName:  gofakeit.Name(),
				PatientPhone: fmt.Sprintf("+601%d", gofakeit.Number(10000000, 99999999)),
				PatientEmail: gofakeit.Email(),
				Clinic:       c.Location,
				ServiceID:    uuid.New(),
				ScheduledAt:  at,
				Notes:        gofakeit.RandomString(visitNotes),
				Source:       appointment.SourceStaff,
			})
			if err != nil {
				return fmt.Errorf("book %s: %w", c.Location, err)
			}
		}
		fmt.Printf("seeded %d appointments for %s\n", perClinic, c.Name)
	}
	return nil
}

var visitNotes = []string{"scaling", "filling", "extraction", "check-up", "braces adjustment", "root canal review"}

func printStaffTokens(secret string) {
	if secret == "" {
		fmt.Println("STAFF_JWT_SECRET not set, no staff tokens issued")
		return
	}
	for _, role := range []string{api.RoleAdmin, api.RoleReceptionist, api.RoleDentist} {
		token, err := api.IssueStaffToken(secret, "seed-"+role, role, 24*time.Hour)
		if err != nil {
			fmt.Printf("%s token: %v\n", role, err)
			continue
		}
		fmt.Printf("%s token: %s\n", role, token)
	}
}
