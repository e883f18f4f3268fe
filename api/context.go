package api

type contextKey int

//TransactionKey is the context key for the *sql.Tx used by the functions in this package
const TransactionKey contextKey = 0

//UserKey is the context key for the authenticated *User
const UserKey contextKey = 1
