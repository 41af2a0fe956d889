package validator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/pkg/logger"
	"edubook/pkg/model"
	"edubook/pkg/sanitizer"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

var clockRegex = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

func invalid(field, format string, args ...any) ValidationErrors {
	return ValidationErrors{{Field: field, Message: fmt.Sprintf(format, args...)}}
}

// CatalogReader resolves the entities a request refers to. Missing records
// are reported as appointmentserrors.ErrNotFound.
type CatalogReader interface {
	FindUser(ctx context.Context, id string) (*model.User, error)
	FindInstructor(ctx context.Context, id string) (*model.Instructor, error)
	FindAppointmentType(ctx context.Context, id string) (*model.AppointmentType, error)
}

type Options struct {
	// AdvanceBookingDays applies when the appointment type sets no limit.
	AdvanceBookingDays int
	Location           *time.Location
	Now                func() time.Time
}

type BookingValidator struct {
	validate *validator.Validate
	catalog  CatalogReader
	opts     Options
	logger   *logger.Logger
}

func NewBookingValidator(catalog CatalogReader, opts Options, log *logger.Logger) *BookingValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("hhmm", validateClock); err != nil {
		log.Fatal("Failed to register 'hhmm' validator",
			"error", err,
		)
	}

	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &BookingValidator{
		validate: v,
		catalog:  catalog,
		opts:     opts,
		logger:   log,
	}
}

func validateClock(fl validator.FieldLevel) bool {
	return clockRegex.MatchString(fl.Field().String())
}

// Sanitize returns a cleaned copy of req. Identifiers are trimmed and
// lower-cased; free text loses control characters and stray whitespace.
func Sanitize(req *model.BookingRequest) *model.BookingRequest {
	out := *req
	out.UserID = sanitizer.SanitizeID(req.UserID)
	out.InstructorID = sanitizer.SanitizeID(req.InstructorID)
	out.AppointmentTypeID = sanitizer.SanitizeID(req.AppointmentTypeID)
	out.Date = strings.TrimSpace(req.Date)
	out.StartTime = strings.TrimSpace(req.StartTime)
	out.EndTime = strings.TrimSpace(req.EndTime)
	out.MeetingType = strings.ToLower(strings.TrimSpace(req.MeetingType))
	out.Notes = sanitizer.SanitizeFreeText(req.Notes)
	out.Location = sanitizer.SanitizeSingleLine(req.Location)
	out.MeetingLink = sanitizer.SanitizeLink(req.MeetingLink)
	return &out
}

// Validate checks req in order and stops at the first failing stage.
// Rule violations come back as ValidationErrors; any other error means the
// catalog could not be read.
func (v *BookingValidator) Validate(ctx context.Context, req *model.BookingRequest) error {
	if err := v.validate.Struct(req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}

	day, err := model.ParseDate(req.Date, v.opts.Location)
	if err != nil {
		return invalid("date", "%s", err.Error())
	}
	slot, err := model.NewInterval(req.StartTime, req.EndTime)
	if err != nil {
		return invalid("start_time", "%s", err.Error())
	}
	if slot.Minutes() <= 0 {
		return invalid("end_time", "end_time must be after start_time")
	}

	now := v.opts.Now().In(v.opts.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, v.opts.Location)
	if day.Before(today) {
		return invalid("date", "date cannot be in the past")
	}
	startsAt := day.Add(time.Duration(slot.Start) * time.Minute)
	if !startsAt.After(now) {
		return invalid("start_time", "start_time has already passed")
	}

	entities, err := v.loadEntities(ctx, req)
	if err != nil {
		return err
	}

	apptType := entities.appointmentType
	if slot.Minutes() != apptType.DurationMinutes {
		return invalid("end_time", "appointment type %q lasts %d minutes, requested slot is %d minutes",
			apptType.Name, apptType.DurationMinutes, slot.Minutes())
	}

	maxDays := apptType.MaxAdvanceDays
	if maxDays <= 0 {
		maxDays = v.opts.AdvanceBookingDays
	}
	if maxDays > 0 && day.After(today.AddDate(0, 0, maxDays)) {
		return invalid("date", "date is more than %d days ahead", maxDays)
	}

	if !entities.user.Active {
		return invalid("user_id", "user is not active")
	}
	if !entities.instructor.Active {
		return invalid("instructor_id", "instructor is not active")
	}
	if !apptType.Active {
		return invalid("appointment_type_id", "appointment type is not active")
	}
	if apptType.InstructorID != req.InstructorID {
		return invalid("appointment_type_id", "appointment type does not belong to this instructor")
	}

	return nil
}

type entities struct {
	user            *model.User
	instructor      *model.Instructor
	appointmentType *model.AppointmentType
}

// loadEntities fetches the referenced records concurrently. The first
// failure in field order is reported, not the first to finish.
func (v *BookingValidator) loadEntities(ctx context.Context, req *model.BookingRequest) (*entities, error) {
	var (
		out  entities
		errs [3]error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out.user, errs[0] = v.catalog.FindUser(gctx, req.UserID)
		return errs[0]
	})
	g.Go(func() error {
		out.instructor, errs[1] = v.catalog.FindInstructor(gctx, req.InstructorID)
		return errs[1]
	})
	g.Go(func() error {
		out.appointmentType, errs[2] = v.catalog.FindAppointmentType(gctx, req.AppointmentTypeID)
		return errs[2]
	})
	groupErr := g.Wait()

	fields := [3]string{"user_id", "instructor_id", "appointment_type_id"}
	names := [3]string{"user", "instructor", "appointment type"}
	for i, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, appointmentserrors.ErrNotFound) {
			return nil, invalid(fields[i], "%s not found", names[i])
		}
		if errors.Is(err, context.Canceled) && !errors.Is(groupErr, context.Canceled) {
			// Cancelled because a sibling lookup failed first.
			continue
		}
		return nil, fmt.Errorf("failed to load %s: %w", names[i], err)
	}
	if groupErr != nil {
		return nil, groupErr
	}

	return &out, nil
}

func (v *BookingValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", err.Field(), err.Param())
		case "mongodb":
			message = fmt.Sprintf("%s must be a valid MongoDB ObjectID", err.Field())
		case "datetime":
			message = fmt.Sprintf("%s must be a real date in YYYY-MM-DD format", err.Field())
		case "hhmm":
			message = fmt.Sprintf("%s must be a time in HH:MM format", err.Field())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		case "url":
			message = fmt.Sprintf("%s must be a valid URL", err.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
