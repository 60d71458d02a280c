// Package pinsql is a small parameterized-query execution layer on top of database/sql. Write the SQL you already write with :named tokens, hand over a map of parameters, and pinsql verifies that every token has a value, binds them as driver placeholders for the session dialect, executes on one dedicated connection and shapes the result after the statement type (rows, affected count or generated key). On top of that it runs statement batches inside a single transaction that is rolled back on any failure, builds INSERT/UPDATE/DELETE statements whose table and column names are checked against a cached schema snapshot, and scans rows straight into your structs.
package pinsql
