package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

//QuoteRequest is a completed guided-service application (e.g. a demolition quote) submitted through chat
type QuoteRequest struct {
	ID             int64     `json:"id"`
	ApplicationID  string    `json:"application_id"`
	ServiceID      string    `json:"service_id"`
	ProjectID      string    `json:"project_id"`
	UserID         string    `json:"user_id"`
	DemolitionType string    `json:"demolition_type,omitempty"`
	Address        string    `json:"address"`
	AddressDetail  string    `json:"address_detail,omitempty"`
	DesiredDate    string    `json:"desired_date"`
	WasteDisposal  bool      `json:"waste_disposal"`
	Area           float64   `json:"area"`
	HasElevator    bool      `json:"has_elevator"`
	PhotoCount     int       `json:"photo_count"`
	Contact        string    `json:"contact,omitempty"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}

//Validate validates the given QuoteRequest
func (q *QuoteRequest) Validate() error {
	if err := ValidateString("application_id", q.ApplicationID, 32); err != nil {
		return err
	}
	if err := ValidateString("service_id", q.ServiceID, 64); err != nil {
		return err
	}
	if err := ValidateString("project_id", q.ProjectID, 64); err != nil {
		return err
	}
	if err := ValidateSafeText("address", q.Address, 2, 100); err != nil {
		return err
	}
	if q.AddressDetail != "" && ContainsUnsafe(q.AddressDetail) {
		return errors.New("address_detail contains unsafe characters")
	}
	if q.Area <= 0 {
		return fmt.Errorf("area (%v) must be positive", q.Area)
	}
	if q.Contact != "" {
		return ValidatePhone(q.Contact)
	}
	return nil
}

//CreateQuoteRequest creates a new QuoteRequest (ID and CreatedAt are ignored and created) and returns its ID, or an error if one occurred
func CreateQuoteRequest(ctx context.Context, q *QuoteRequest) (id int64, err error) {
	tx := ctx.Value(TransactionKey).(*sql.Tx)

	if err = q.Validate(); err != nil {
		return 0, &Error{Description: "Could not validate QuoteRequest", Type: ErrorTypeUser, Err: err}
	}

	res, err := tx.Exec(`INSERT INTO quote_request(application_id, service_id, project_id, user_id, demolition_type,
		address, address_detail, desired_date, waste_disposal, area, has_elevator, photo_count, contact, summary, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		q.ApplicationID, q.ServiceID, q.ProjectID, q.UserID, q.DemolitionType,
		q.Address, q.AddressDetail, q.DesiredDate, q.WasteDisposal, q.Area, q.HasElevator, q.PhotoCount, q.Contact, q.Summary, time.Now(),
	)
	if err != nil {
		if e, ok := err.(*mysql.MySQLError); ok && e.Number == 1062 {
			return 0, &Error{Description: fmt.Sprintf("Could not insert QuoteRequest(%s)", q.ApplicationID), Type: ErrorTypeDuplicate, Err: err}
		}
		return 0, &Error{Description: "Could not insert QuoteRequest", Type: ErrorTypeServer, Err: err}
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, &Error{Description: "Could not fetch QuoteRequest id", Type: ErrorTypeServer, Err: err}
	}

	return id, nil
}

//ReadQuoteRequests returns the QuoteRequests for the given project, newest first, or an error if one occurred
func ReadQuoteRequests(ctx context.Context, projectID string) ([]*QuoteRequest, error) {
	tx := ctx.Value(TransactionKey).(*sql.Tx)

	rows, err := tx.Query(`SELECT id, application_id, service_id, project_id, user_id, demolition_type, address, address_detail,
		desired_date, waste_disposal, area, has_elevator, photo_count, contact, summary, created_at
		FROM quote_request WHERE project_id=? ORDER BY created_at DESC;`, projectID)
	if err != nil {
		return nil, &Error{Description: fmt.Sprintf("Could not query QuoteRequests for project(%s)", projectID), Type: ErrorTypeServer, Err: err}
	}
	defer rows.Close()

	quotes := make([]*QuoteRequest, 0)

	for rows.Next() {
		q := new(QuoteRequest)
		if err := rows.Scan(&(q.ID), &(q.ApplicationID), &(q.ServiceID), &(q.ProjectID), &(q.UserID), &(q.DemolitionType),
			&(q.Address), &(q.AddressDetail), &(q.DesiredDate), &(q.WasteDisposal), &(q.Area), &(q.HasElevator),
			&(q.PhotoCount), &(q.Contact), &(q.Summary), &(q.CreatedAt)); err != nil {
			return nil, &Error{Description: fmt.Sprintf("Could not scan QuoteRequest row for project(%s)", projectID), Type: ErrorTypeServer, Err: err}
		}
		quotes = append(quotes, q)
	}

	if err := rows.Err(); err != nil {
		return nil, &Error{Description: fmt.Sprintf("Could not scan QuoteRequest rows for project(%s)", projectID), Type: ErrorTypeServer, Err: err}
	}

	return quotes, nil
}

//QuoteStore records QuoteRequests in their own transaction. It is used by guided services,
//which run outside of any HTTP request transaction.
type QuoteStore struct {
	db *sql.DB
}

//NewQuoteStore returns a new QuoteStore using db
func NewQuoteStore(db *sql.DB) *QuoteStore {
	return &QuoteStore{db: db}
}

//RecordQuote inserts q in a new transaction and sets q.ID
func (s *QuoteStore) RecordQuote(ctx context.Context, q *QuoteRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Description: "Could not begin transaction", Type: ErrorTypeServer, Err: err}
	}

	id, err := CreateQuoteRequest(context.WithValue(ctx, TransactionKey, tx), q)
	if err != nil {
		if rErr := tx.Rollback(); rErr != nil && rErr != sql.ErrTxDone {
			return &Error{Description: "Could not rollback transaction", Type: ErrorTypeServer, Err: rErr}
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return &Error{Description: "Could not commit transaction", Type: ErrorTypeServer, Err: err}
	}

	q.ID = id
	return nil
}
