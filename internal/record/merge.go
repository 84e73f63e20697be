package record

// Merge reconciles a primary row with the analyzer payload embedded in it and
// a fallback record assembled from auxiliary sources. Field precedence:
// primary column value, then payload value, then fallback. Site and email
// lists are unioned across all sources; equipment and product lists are taken
// wholesale from the highest-precedence source that has any items.
//
// The payload is also patched in place with fallback facts it was missing, so
// callers reading it as a single document see the same reconciled state as
// the structured fields.
func Merge(rec *CompanyRecord, fb *FallbackRecord) {
	if fb == nil {
		fb = &FallbackRecord{}
	}

	// Scalars: primary -> payload -> fallback.
	if rec.Description == "" {
		rec.Description = payloadString(rec.Payload, "description", "company_description", "about")
	}
	if rec.Description == "" {
		rec.Description = fb.Description
	}
	if rec.Code == "" {
		rec.Code = payloadString(rec.Payload, "code", "classification_code")
	}
	if rec.Code == "" {
		rec.Code = fb.Category
	}
	if rec.Progress == nil {
		rec.Progress = NormalizeProgress(payloadValue(rec.Payload, "progress"))
	}
	if rec.Score == nil {
		rec.Score = ParseFloat(payloadValue(rec.Payload, "score"))
	}
	if rec.StartedAt == nil {
		rec.StartedAt = ParseTime(payloadValue(rec.Payload, "started_at"))
	}
	if rec.FinishedAt == nil {
		rec.FinishedAt = ParseTime(payloadValue(rec.Payload, "finished_at", "completed_at"))
	}

	// Compound fields: union of all non-empty sources.
	rec.Sites = UnionSites(rec.Sites,
		ParseStringList(payloadValue(rec.Payload, "sites", "websites", "urls")),
		fb.Sites)
	rec.Emails = UnionLists(rec.Emails,
		ParseStringList(payloadValue(rec.Payload, "emails", "email_list")),
		fb.Emails)

	// List fields: first non-empty source wins wholesale.
	if len(rec.Equipment) == 0 {
		rec.Equipment = ParseStringList(payloadValue(rec.Payload, "equipment", "machinery"))
	}
	if len(rec.Equipment) == 0 {
		rec.Equipment = fb.Equipment
	}
	if len(rec.Products) == 0 {
		rec.Products = ParseStringList(payloadValue(rec.Payload, "products", "goods"))
	}
	if len(rec.Products) == 0 {
		rec.Products = fb.Products
	}

	patchPayload(rec)
}

// patchPayload writes reconciled facts back into the payload document when
// the payload lacks them.
func patchPayload(rec *CompanyRecord) {
	if rec.Payload == nil {
		if rec.Description == "" && len(rec.Products) == 0 &&
			len(rec.Equipment) == 0 && len(rec.Sites) == 0 && len(rec.Emails) == 0 {
			return
		}
		rec.Payload = make(map[string]any)
	}
	if payloadString(rec.Payload, "description") == "" && rec.Description != "" {
		rec.Payload["description"] = rec.Description
	}
	if len(ParseStringList(payloadValue(rec.Payload, "products", "goods"))) == 0 && len(rec.Products) > 0 {
		rec.Payload["products"] = rec.Products
	}
	if len(ParseStringList(payloadValue(rec.Payload, "equipment", "machinery"))) == 0 && len(rec.Equipment) > 0 {
		rec.Payload["equipment"] = rec.Equipment
	}
	if len(ParseStringList(payloadValue(rec.Payload, "sites", "websites", "urls"))) == 0 && len(rec.Sites) > 0 {
		rec.Payload["sites"] = rec.Sites
	}
	if len(ParseStringList(payloadValue(rec.Payload, "emails", "email_list"))) == 0 && len(rec.Emails) > 0 {
		rec.Payload["emails"] = rec.Emails
	}
}

func payloadValue(payload map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := payload[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func payloadString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
