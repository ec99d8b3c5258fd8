package lotto

import (
	"fmt"
	"net/url"
	"strings"
)

// ResultClass is the driver-side meaning of a provider result code.
type ResultClass int

const (
	ClassSuccess ResultClass = iota
	ClassPartial
	ClassAllFailed
	ClassInsufficientFunds
	ClassWindowClosed
	ClassUnknown
)

// StepDefinition is one remote call of the purchase sequence. Build
// produces the plaintext form the codec encrypts for the q= exchange.
type StepDefinition struct {
	Name  string
	Path  string
	Build func(att *Attempt) url.Values
}

// Definition is a versioned protocol table. The driver never hardcodes an
// endpoint or a result code: when the site changes a step, a new Definition
// is the only thing that has to change.
type Definition struct {
	Version int
	Order   StepDefinition
	Confirm StepDefinition
	Commit  StepDefinition
	Codes   map[string]ResultClass
}

// Classify maps a provider result code onto the driver's taxonomy. An
// absent code is treated as success for steps that do not report one;
// anything unrecognized fails closed.
func (d Definition) Classify(code string) ResultClass {
	if code == "" {
		return ClassSuccess
	}
	if class, ok := d.Codes[code]; ok {
		return class
	}
	return ClassUnknown
}

const ticketPrice = 1000

// V1 is the current pension-720 purchase protocol:
// makeOrderNo.do → connPro.do → checkDeposit.do.
func V1() Definition {
	return Definition{
		Version: 1,
		Order: StepDefinition{
			Name:  "order",
			Path:  "/makeOrderNo.do",
			Build: buildAutoForm,
		},
		Confirm: StepDefinition{
			Name:  "confirm",
			Path:  "/connPro.do",
			Build: buildConfirmForm,
		},
		Commit: StepDefinition{
			Name:  "commit",
			Path:  "/checkDeposit.do",
			Build: buildAutoForm,
		},
		Codes: map[string]ResultClass{
			"100":   ClassSuccess,
			"10000": ClassSuccess,
			"110":   ClassPartial,
			"120":   ClassAllFailed,
			"20001": ClassInsufficientFunds,
		},
	}
}

func buildAutoForm(att *Attempt) url.Values {
	return url.Values{
		"ROUND":        {fmt.Sprintf("%d", att.Round)},
		"SEL_NO":       {""},
		"BUY_CNT":      {""},
		"AUTO_SEL_SET": {""},
		"SEL_CLASS":    {""},
		"BUY_TYPE":     {"A"},
		"ACCS_TYPE":    {"01"},
	}
}

func buildConfirmForm(att *Attempt) url.Values {
	groups := att.Groups()
	buyNos := make([]string, len(groups))
	buySetTypes := make([]string, len(groups))
	for i, g := range groups {
		buyNos[i] = fmt.Sprintf("%d000000", g)
		buySetTypes[i] = "SA"
	}

	return url.Values{
		"ROUND":           {fmt.Sprintf("%d", att.Round)},
		"FLAG":            {""},
		"BUY_KIND":        {"01"},
		"BUY_NO":          {strings.Join(buyNos, ",")},
		"BUY_CNT":         {fmt.Sprintf("%d", len(groups))},
		"BUY_SET_TYPE":    {strings.Join(buySetTypes, ",")},
		"BUY_TYPE":        {"A"},
		"ACCS_TYPE":       {"01"},
		"orderNo":         {att.OrderNo},
		"orderDate":       {att.OrderDate},
		"TRANSACTION_ID":  {att.Intent.Token},
		"WIN_DATE":        {""},
		"USER_ID":         {att.Intent.Username},
		"PAY_TYPE":        {""},
		"resultErrorCode": {""},
		"resultErrorMsg":  {""},
		"resultOrderNo":   {""},
		"WORKING_FLAG":    {"false"},
		"NUM_CHANGE_TYPE": {""},
		"auto_process":    {""},
		"set_type":        {"SA"},
		"classnum":        {""},
		"selnum":          {""},
		"buytype":         {"A"},
		"DSEC":            {"0"},
		"CLOSE_DATE":      {""},
		"verifyYN":        {"N"},
		"curdeposit":      {"0"},
		"curpay":          {"0"},
	}
}
