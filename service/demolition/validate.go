package demolition

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/korylprince/tevor-concierge/api"
)

//Limits for collected values
const (
	MinArea        = 1
	MaxArea        = 500 //평
	MinAddressLen  = 2
	MaxAddressLen  = 100
	MaxDetailLen   = 100
	dateLayout     = "2006-01-02"
	bookingHorizon = 1 //years
)

//DemolitionTypes are the accepted quote form demolition types
var DemolitionTypes = []string{"주택 철거", "상가 철거", "인테리어 철거", "부분 철거", "기타"}

//ParseArea parses and range-checks an area in 평
func ParseArea(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("면적을 입력해주세요.")
	}
	area, err := strconv.ParseFloat(raw, 64)
	if err != nil || area != area {
		return 0, fmt.Errorf("올바른 면적을 입력해주세요.")
	}
	return area, CheckArea(area)
}

//CheckArea range-checks an area in 평
func CheckArea(area float64) error {
	switch {
	case area <= 0:
		return fmt.Errorf("올바른 면적을 입력해주세요. (양수)")
	case area < MinArea:
		return fmt.Errorf("면적은 최소 %d평 이상이어야 합니다.", MinArea)
	case area > MaxArea:
		return fmt.Errorf("면적이 너무 큽니다. (최대 %d평)", MaxArea)
	}
	return nil
}

//CheckAddress validates a site address
func CheckAddress(address string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(address))
	switch {
	case n == 0:
		return fmt.Errorf("주소를 입력해주세요.")
	case n < MinAddressLen:
		return fmt.Errorf("주소를 %d자 이상 입력해주세요.", MinAddressLen)
	case n > MaxAddressLen:
		return fmt.Errorf("주소가 너무 깁니다. (최대 %d자)", MaxAddressLen)
	case api.ContainsUnsafe(address):
		return fmt.Errorf("주소에 특수문자는 사용할 수 없습니다.")
	}
	return nil
}

//CheckAddressDetail validates the optional detail line of an address
func CheckAddressDetail(detail string) error {
	switch {
	case utf8.RuneCountInString(detail) > MaxDetailLen:
		return fmt.Errorf("상세 주소가 너무 깁니다. (최대 %d자)", MaxDetailLen)
	case api.ContainsUnsafe(detail):
		return fmt.Errorf("상세 주소에 특수문자는 사용할 수 없습니다.")
	}
	return nil
}

//ParseDate parses a YYYY-MM-DD date that must fall between today and one year from today
func ParseDate(raw string, now time.Time) (time.Time, error) {
	date, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("올바른 날짜를 선택해주세요.")
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if date.Before(today) {
		return time.Time{}, fmt.Errorf("과거 날짜는 선택할 수 없습니다.")
	}
	if date.After(today.AddDate(bookingHorizon, 0, 0)) {
		return time.Time{}, fmt.Errorf("1년 이내의 날짜를 선택해주세요.")
	}
	return date, nil
}

//CheckPhone validates a contact phone number
func CheckPhone(phone string) error {
	if err := api.ValidatePhone(phone); err != nil {
		return fmt.Errorf("올바른 휴대폰 번호를 입력해주세요. (예: 010-1234-5678)")
	}
	return nil
}

//QuoteForm is the one-shot quote form payload
type QuoteForm struct {
	DemolitionType string `json:"demolitionType"`
	Area           string `json:"area"`
	Location       string `json:"location"`
	DesiredDate    string `json:"desiredDate"`
	Contact        string `json:"contact"`
}

//Validate returns the rejected fields of f. DesiredDate and Contact are optional.
func (f *QuoteForm) Validate(now time.Time) api.FieldErrors {
	errs := make(api.FieldErrors)

	if f.DemolitionType == "" {
		errs.Add("demolitionType", "철거 유형을 선택해주세요.")
	} else if !isDemolitionType(f.DemolitionType) {
		errs.Add("demolitionType", "올바른 철거 유형을 선택해주세요.")
	}

	if _, err := ParseArea(f.Area); err != nil {
		errs.Add("area", err.Error())
	}

	if err := CheckAddress(f.Location); err != nil {
		errs.Add("location", err.Error())
	}

	if f.DesiredDate != "" {
		if _, err := ParseDate(f.DesiredDate, now); err != nil {
			errs.Add("desiredDate", err.Error())
		}
	}

	if f.Contact != "" {
		if err := CheckPhone(f.Contact); err != nil {
			errs.Add("contact", err.Error())
		}
	}

	return errs
}

//Sanitized returns a copy of f with free text trimmed and the contact reduced to digits and hyphens
func (f *QuoteForm) Sanitized() QuoteForm {
	return QuoteForm{
		DemolitionType: f.DemolitionType,
		Area:           api.SanitizeText(f.Area),
		Location:       api.SanitizeText(f.Location),
		DesiredDate:    strings.TrimSpace(f.DesiredDate),
		Contact: strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '-' {
				return r
			}
			return -1
		}, f.Contact),
	}
}

func isDemolitionType(t string) bool {
	for _, v := range DemolitionTypes {
		if v == t {
			return true
		}
	}
	return false
}
