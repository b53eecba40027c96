package utils

import (
	"strings"

	"reputly/models"
)

// RenderTemplate substitutes {{field}} merge tags with values. Unknown tags
// are left in place so broken templates are visible rather than silent.
func RenderTemplate(tmpl string, fields map[string]string) string {
	pairs := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// MergeFields builds the merge tag values for one customer/business pair.
func MergeFields(customer *models.Customer, business *models.Business) map[string]string {
	fields := map[string]string{
		"first_name":    customer.FirstName,
		"last_name":     customer.LastName,
		"full_name":     customer.FullName(),
		"business_name": "",
		"review_link":   "",
	}
	if business != nil {
		fields["business_name"] = business.Name
		reviewLink := business.GoogleReviewURL
		if reviewLink == "" {
			reviewLink = business.FacebookReviewURL
		}
		fields["review_link"] = reviewLink
	}
	return fields
}
