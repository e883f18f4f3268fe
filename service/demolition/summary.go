package demolition

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

//PricePerPyeong is the reference cost used for the estimate, in 원
const PricePerPyeong = 150000

const (
	applicationPrefix = "#PD-"
	applicationIDLen  = 9
	base36            = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

//newApplicationID returns a display-only confirmation id: "#PD-" and 9 upper-case base-36 characters
func newApplicationID(r *rand.Rand) string {
	var b strings.Builder
	b.WriteString(applicationPrefix)
	for i := 0; i < applicationIDLen; i++ {
		b.WriteByte(base36[r.IntN(len(base36))])
	}
	return b.String()
}

//Application is the data collected by the flow
type Application struct {
	ApplicationID  string
	DemolitionType string
	Address        string
	AddressDetail  string
	DesiredDate    time.Time
	WasteDisposal  *bool
	Area           float64
	HasElevator    *bool
	PhotoCount     int
	Contact        string
}

//EstimatedCost returns the reference cost for the area
func (a *Application) EstimatedCost() int64 {
	return int64(a.Area * PricePerPyeong)
}

//Complete returns true if every value required to confirm has been collected
func (a *Application) Complete() bool {
	return a.Address != "" && !a.DesiredDate.IsZero() && a.Area > 0
}

//Summary renders the application for the user and for later AI chat context
func (a *Application) Summary() string {
	var b strings.Builder
	b.WriteString("[프리미엄철거 서비스 요약]\n")
	if a.ApplicationID != "" {
		fmt.Fprintf(&b, "접수번호: %s\n", a.ApplicationID)
	}
	if a.DemolitionType != "" {
		fmt.Fprintf(&b, "철거 유형: %s\n", a.DemolitionType)
	}
	if a.Address != "" {
		fmt.Fprintf(&b, "주소: %s\n", strings.TrimSpace(a.Address+" "+a.AddressDetail))
	}
	if !a.DesiredDate.IsZero() {
		fmt.Fprintf(&b, "희망일: %s\n", formatDate(a.DesiredDate))
	}
	if a.Area > 0 {
		fmt.Fprintf(&b, "면적: %s평\n", formatArea(a.Area))
	}
	if a.WasteDisposal != nil {
		fmt.Fprintf(&b, "폐기물 처리: %s\n", yesNo(*a.WasteDisposal, "포함", "미포함"))
	}
	if a.HasElevator != nil {
		fmt.Fprintf(&b, "엘리베이터: %s\n", yesNo(*a.HasElevator, "있음", "없음"))
	}
	if a.PhotoCount > 0 {
		fmt.Fprintf(&b, "첨부 사진: %d장\n", a.PhotoCount)
	}
	if a.Contact != "" {
		fmt.Fprintf(&b, "연락처: %s\n", a.Contact)
	}
	if a.Area > 0 {
		fmt.Fprintf(&b, "예상 비용: %s원 (참고용)", formatThousands(a.EstimatedCost()))
	}
	return strings.TrimRight(b.String(), "\n")
}

//Data returns the application as a plain map for component props and attachments
func (a *Application) Data() map[string]any {
	data := map[string]any{
		"address":     a.Address,
		"photo_count": a.PhotoCount,
	}
	if a.ApplicationID != "" {
		data["application_id"] = a.ApplicationID
	}
	if a.DemolitionType != "" {
		data["demolition_type"] = a.DemolitionType
	}
	if a.AddressDetail != "" {
		data["address_detail"] = a.AddressDetail
	}
	if !a.DesiredDate.IsZero() {
		data["desired_date"] = a.DesiredDate.Format(dateLayout)
	}
	if a.WasteDisposal != nil {
		data["waste_disposal"] = *a.WasteDisposal
	}
	if a.Area > 0 {
		data["area"] = a.Area
		data["estimated_cost"] = a.EstimatedCost()
	}
	if a.HasElevator != nil {
		data["has_elevator"] = *a.HasElevator
	}
	if a.Contact != "" {
		data["contact"] = a.Contact
	}
	return data
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

//formatDate renders t the way Korean locales show short dates, e.g. "2025. 4. 1."
func formatDate(t time.Time) string {
	return fmt.Sprintf("%d. %d. %d.", t.Year(), int(t.Month()), t.Day())
}

func formatArea(area float64) string {
	return strconv.FormatFloat(area, 'f', -1, 64)
}

//formatThousands renders n with comma separators
func formatThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
