// Package easyappointments reads booked appointments straight from the
// EasyAppointments MySQL schema.
package easyappointments

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/signup-sync/internal/adapters"
	"github.com/angelmondragon/signup-sync/internal/funnel"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
	"github.com/angelmondragon/signup-sync/pkg/logger"
)

var tablePrefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

type opener func(ctx context.Context) (*gorm.DB, error)

// Adapter maps EasyAppointments bookings to appointment_booked candidates.
type Adapter struct {
	cfg  config.EasyAppointmentsConfig
	logg *logger.Logger
	open opener

	mu   sync.Mutex
	conn *gorm.DB
}

// Option configures optional adapter behavior.
type Option func(*Adapter)

// WithConn supplies an already opened connection instead of dialing MySQL.
func WithConn(conn *gorm.DB) Option {
	return func(a *Adapter) {
		if conn != nil {
			a.conn = conn
		}
	}
}

func New(cfg config.EasyAppointmentsConfig, logg *logger.Logger, opts ...Option) *Adapter {
	a := &Adapter{cfg: cfg, logg: logg}
	a.open = func(ctx context.Context) (*gorm.DB, error) {
		return db.OpenMySQL(ctx, a.cfg, a.logg)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

func (a *Adapter) SourceType() enums.SourceType { return enums.SourceEasyAppointments }

// sourceConfig is the optional per-source override stored in funnel_sources.config.
type sourceConfig struct {
	TablePrefix    *string `json:"table_prefix"`
	CustomerRoleID *int    `json:"customer_role_id"`
}

type appointmentRow struct {
	AppointmentID int64
	BookDatetime  time.Time
	StartDatetime *time.Time
	EndDatetime   *time.Time
	Hash          *string
	Notes         *string
	CustomerID    int64
	Email         *string
	FirstName     *string
	LastName      *string
	MobileNumber  *string
	PhoneNumber   *string
	Address       *string
	City          *string
	State         *string
	ZipCode       *string
	ServiceID     *int64
	ServiceName   *string
	Price         decimal.NullDecimal
	Duration      *int
	Currency      *string
}

func (a *Adapter) FetchAndMap(ctx context.Context, source models.FunnelSource, since time.Time) (*adapters.Batch, error) {
	prefix, roleID, err := a.settings(source)
	if err != nil {
		return nil, err
	}
	conn, err := a.connection(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "connect to easyappointments")
	}

	var rows []appointmentRow
	if err := conn.WithContext(ctx).Raw(appointmentsQuery(prefix), since.UTC(), roleID).Scan(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query easyappointments appointments")
	}

	batch := &adapters.Batch{Candidates: make([]funnel.Candidate, 0, len(rows))}
	for _, row := range rows {
		if c, ok := mapAppointment(row); ok {
			batch.Candidates = append(batch.Candidates, c)
			continue
		}
		batch.Reject(strconv.FormatInt(row.AppointmentID, 10), "appointment customer has no email")
	}

	if a.logg != nil {
		logCtx := a.logg.WithFields(ctx, map[string]any{
			"source_type":  enums.SourceEasyAppointments,
			"appointments": len(rows),
			"since":        since.UTC().Format(time.RFC3339),
		})
		a.logg.Info(logCtx, "fetched easyappointments bookings")
	}
	return batch, nil
}

// Close releases the cached MySQL connection, if one was opened.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	sqlDB, err := a.conn.DB()
	if err != nil {
		return err
	}
	a.conn = nil
	return sqlDB.Close()
}

func (a *Adapter) connection(ctx context.Context) (*gorm.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return a.conn, nil
	}
	conn, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	a.conn = conn
	return conn, nil
}

func (a *Adapter) settings(source models.FunnelSource) (string, int, error) {
	prefix := a.cfg.TablePrefix
	roleID := a.cfg.CustomerRoleID
	var sc sourceConfig
	if err := source.Config.Decode(&sc); err != nil {
		return "", 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode easyappointments source config")
	}
	if sc.TablePrefix != nil {
		prefix = *sc.TablePrefix
	}
	if sc.CustomerRoleID != nil {
		roleID = *sc.CustomerRoleID
	}
	if !tablePrefixPattern.MatchString(prefix) {
		return "", 0, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid easyappointments table prefix %q", prefix)
	}
	if roleID <= 0 {
		roleID = 4
	}
	return prefix, roleID, nil
}

func appointmentsQuery(prefix string) string {
	return fmt.Sprintf(`SELECT
	a.id AS appointment_id,
	a.book_datetime,
	a.start_datetime,
	a.end_datetime,
	a.hash,
	a.notes,
	u.id AS customer_id,
	u.email,
	u.first_name,
	u.last_name,
	u.mobile_number,
	u.phone_number,
	u.address,
	u.city,
	u.state,
	u.zip_code,
	s.id AS service_id,
	s.name AS service_name,
	s.price,
	s.duration,
	s.currency
FROM %[1]sappointments a
JOIN %[1]susers u ON a.id_users_customer = u.id
LEFT JOIN %[1]sservices s ON a.id_services = s.id
WHERE a.book_datetime >= ? AND u.id_roles = ?
ORDER BY a.book_datetime ASC`, prefix)
}

func mapAppointment(row appointmentRow) (funnel.Candidate, bool) {
	email := strings.TrimSpace(deref(row.Email))
	if email == "" {
		return funnel.Candidate{}, false
	}
	phone := deref(row.MobileNumber)
	if strings.TrimSpace(phone) == "" {
		phone = deref(row.PhoneNumber)
	}

	data := map[string]any{
		"appointment_id": row.AppointmentID,
		"customer_id":    row.CustomerID,
	}
	if row.ServiceName != nil {
		data["service_name"] = *row.ServiceName
	}
	if row.Price.Valid {
		data["service_price"] = row.Price.Decimal.StringFixed(2)
	}
	if row.Currency != nil {
		data["currency"] = *row.Currency
	}
	if row.Duration != nil {
		data["duration_minutes"] = *row.Duration
	}
	if row.StartDatetime != nil {
		data["start_datetime"] = row.StartDatetime.UTC().Format(time.RFC3339)
	}
	if row.EndDatetime != nil {
		data["end_datetime"] = row.EndDatetime.UTC().Format(time.RFC3339)
	}
	for key, v := range map[string]*string{"city": row.City, "state": row.State, "zip_code": row.ZipCode} {
		if s := strings.TrimSpace(deref(v)); s != "" {
			data[key] = s
		}
	}

	return funnel.Candidate{
		ExternalID: strconv.FormatInt(row.AppointmentID, 10),
		EventType:  enums.EventAppointmentBooked,
		Email:      email,
		FirstName:  deref(row.FirstName),
		LastName:   deref(row.LastName),
		Phone:      phone,
		OccurredAt: row.BookDatetime.UTC(),
		Data:       data,
	}, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
