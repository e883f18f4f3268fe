package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

//User is a concierge customer that can open chat sessions
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Hash  []byte `json:"-"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

//Validate validates the given User
func (u *User) Validate() error {
	if e, err := mail.ParseAddress(fmt.Sprintf("User <%s>", u.Email)); err != nil || e.Address != u.Email {
		if err != nil {
			return fmt.Errorf("email (%s) must be a valid email: %v", u.Email, err)
		}
		return fmt.Errorf("email (%s) must be a valid email", u.Email)
	}
	if u.Phone != "" {
		if err := ValidatePhone(u.Phone); err != nil {
			return err
		}
	}
	return ValidateSafeText("name", u.Name, 1, 255)
}

//Authenticate returns nil if password matches the User's hash
func (u *User) Authenticate(password string) error {
	return bcrypt.CompareHashAndPassword(u.Hash, []byte(password))
}

//CreateUserWithCredentials hashes password and creates a new User, returning its ID
func CreateUserWithCredentials(ctx context.Context, email, password, name, phone string) (id int64, err error) {
	if len(password) < 8 {
		return 0, &Error{Description: "Could not validate password", Type: ErrorTypeUser, Err: errors.New("password must be at least 8 characters")}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return 0, &Error{Description: "Could not bcrypt encrypt password", Type: ErrorTypeServer, Err: err}
	}

	user := &User{Email: email, Hash: hash, Name: name, Phone: phone}
	if err = user.Validate(); err != nil {
		return 0, &Error{Description: "Could not validate User", Type: ErrorTypeUser, Err: err}
	}

	tx := ctx.Value(TransactionKey).(*sql.Tx)

	res, err := tx.Exec("INSERT INTO user(email, hash, name, phone) VALUES(?, ?, ?, ?);", user.Email, user.Hash, user.Name, user.Phone)
	if err != nil {
		if e, ok := err.(*mysql.MySQLError); ok && e.Number == 1062 {
			dup, newErr := ReadUserByEmail(ctx, user.Email)
			if newErr != nil {
				return 0, newErr
			}
			return 0, &Error{Description: "Could not insert User", Type: ErrorTypeDuplicate, Err: err, DuplicateID: dup.ID}
		}
		return 0, &Error{Description: "Could not insert User", Type: ErrorTypeServer, Err: err}
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, &Error{Description: "Could not fetch User id", Type: ErrorTypeServer, Err: err}
	}

	return id, nil
}

//ReadUser returns the User with the given id, nil if it doesn't exist, or an error if one occurred
func ReadUser(ctx context.Context, id int64) (*User, error) {
	tx := ctx.Value(TransactionKey).(*sql.Tx)

	user := &User{ID: id}

	row := tx.QueryRow("SELECT email, hash, name, phone FROM user WHERE id=?;", id)
	err := row.Scan(&(user.Email), &(user.Hash), &(user.Name), &(user.Phone))

	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, &Error{Description: fmt.Sprintf("Could not query User(%d)", id), Type: ErrorTypeServer, Err: err}
	}

	return user, nil
}

//ReadUserByEmail returns the User with the given email, nil if it doesn't exist, or an error if one occurred
func ReadUserByEmail(ctx context.Context, email string) (*User, error) {
	tx := ctx.Value(TransactionKey).(*sql.Tx)

	user := &User{Email: email}

	row := tx.QueryRow("SELECT id, hash, name, phone FROM user WHERE email=?;", email)
	err := row.Scan(&(user.ID), &(user.Hash), &(user.Name), &(user.Phone))

	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, &Error{Description: fmt.Sprintf("Could not query UserByEmail(%s)", email), Type: ErrorTypeServer, Err: err}
	}

	return user, nil
}
