package mapping

import "github.com/rpattn/crmimport/internal/domain"

// headerAliases maps folded header labels (lowercase letters and digits only)
// to canonical CRM fields.
var headerAliases = map[string]string{
	// Full name
	"fullname":     domain.FieldFullName,
	"name":         domain.FieldFullName,
	"contactname":  domain.FieldFullName,
	"leadname":     domain.FieldFullName,
	"customername": domain.FieldFullName,
	"personname":   domain.FieldFullName,
	"nombre":       domain.FieldFullName,

	// Email
	"email":         domain.FieldEmail,
	"emailaddress":  domain.FieldEmail,
	"mail":          domain.FieldEmail,
	"emailid":       domain.FieldEmail,
	"contactemail":  domain.FieldEmail,
	"workemail":     domain.FieldEmail,
	"businessemail": domain.FieldEmail,
	"correo":        domain.FieldEmail,

	// Phone
	"phone":        domain.FieldPhone,
	"phonenumber":  domain.FieldPhone,
	"phoneno":      domain.FieldPhone,
	"mobile":       domain.FieldPhone,
	"mobilephone":  domain.FieldPhone,
	"cell":         domain.FieldPhone,
	"cellphone":    domain.FieldPhone,
	"tel":          domain.FieldPhone,
	"telephone":    domain.FieldPhone,
	"contactphone": domain.FieldPhone,

	// Source
	"source":     domain.FieldSource,
	"leadsource": domain.FieldSource,
	"utmsource":  domain.FieldSource,
	"channel":    domain.FieldSource,
	"origin":     domain.FieldSource,
	"referral":   domain.FieldSource,
	"campaign":   domain.FieldSource,
}

// fieldLabels lists every folded label known for each field, used for fuzzy fallback.
func fieldLabels() map[string][]string {
	labels := make(map[string][]string, len(domain.CRMFields))
	for alias, field := range headerAliases {
		labels[field] = append(labels[field], alias)
	}
	return labels
}
