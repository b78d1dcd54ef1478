package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"
)

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft           PurchaseOrderStatus = "Draft"
	PurchaseOrderStatusConfirmed       PurchaseOrderStatus = "Confirmed"
	PurchaseOrderStatusPartiallyBilled PurchaseOrderStatus = "Partially Billed"
	PurchaseOrderStatusClosed          PurchaseOrderStatus = "Closed"
	PurchaseOrderStatusCancelled       PurchaseOrderStatus = "Cancelled"
)

func (s *PurchaseOrderStatus) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.New("purchase order status must be string")
	}
	str := string(b[1 : len(b)-1])

	purchaseOrderStatus := map[string]PurchaseOrderStatus{
		"Draft":            PurchaseOrderStatusDraft,
		"Confirmed":        PurchaseOrderStatusConfirmed,
		"Partially Billed": PurchaseOrderStatusPartiallyBilled,
		"Closed":           PurchaseOrderStatusClosed,
		"Cancelled":        PurchaseOrderStatusCancelled,
	}
	value, ok := purchaseOrderStatus[str]
	if !ok {
		return errors.New("invalid purchase order status")
	}
	*s = value
	return nil
}

// ReconciliationRunStatus is the terminal outcome of one reconciliation run.
// REJECTED means the invoice failed input validation and never reached matching.
type ReconciliationRunStatus string

const (
	ReconciliationRunStatusMatched   ReconciliationRunStatus = "MATCHED"
	ReconciliationRunStatusUnmatched ReconciliationRunStatus = "UNMATCHED"
	ReconciliationRunStatusRejected  ReconciliationRunStatus = "REJECTED"
)

// MyDateString carries calendar dates through JSON and MySQL DATE columns.
type MyDateString time.Time

func (t MyDateString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format("2006-01-02") + `"`), nil
}

// Accepts a plain date or a local datetime string.
func (t *MyDateString) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.New("MyDateString must be string")
	}
	str := string(b[1 : len(b)-1])

	localTime, err := time.Parse("2006-01-02", str)
	if err != nil {
		localTime, err = time.Parse("2006-01-02T15:04:05", str)
		if err != nil {
			return errors.New("error parsing date")
		}
	}
	*t = MyDateString(localTime)

	return nil
}

func (t *MyDateString) StartOfDayUTCTime(timezone string) error {
	// do nothing if the pointer is nil
	if t == nil {
		return nil
	}

	localTime := time.Time(*t)

	if timezone == "" {
		timezone = "America/New_York"
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		return err
	}

	localTimeInZone := time.Date(
		localTime.Year(), localTime.Month(), localTime.Day(),
		0, 0, 0, 0,
		location,
	)

	*t = MyDateString(localTimeInZone.In(time.UTC))

	return nil
}

func (t *MyDateString) EndOfDayUTCTime(timezone string) error {
	// do nothing if the pointer is nil
	if t == nil {
		return nil
	}

	localTime := time.Time(*t)

	if timezone == "" {
		timezone = "America/New_York"
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		return err
	}

	localTimeInZone := time.Date(
		localTime.Year(), localTime.Month(), localTime.Day(),
		23, 59, 59, 999,
		location,
	)

	*t = MyDateString(localTimeInZone.In(time.UTC))

	return nil
}

// Value implements the driver.Valuer interface
func (t MyDateString) Value() (driver.Value, error) {
	return time.Time(t), nil
}

// Scan implements the sql.Scanner interface
func (t *MyDateString) Scan(value interface{}) error {
	if value == nil {
		*t = MyDateString(time.Time{})
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		*t = MyDateString(v)
	default:
		return fmt.Errorf("cannot convert %T to MyDateString", value)
	}
	return nil
}

func (t *MyDateString) SetDefaultNowIfNil() *MyDateString {
	if t == nil {
		now := MyDateString(time.Now())
		return &now
	}
	return t
}
