package catalog

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// SalvageReport counts repairs applied to legacy or malformed fields, keyed
// by field name.
type SalvageReport map[string]int

func (r SalvageReport) add(field string) {
	r[field]++
}

// Merge adds other's counts into r.
func (r SalvageReport) Merge(other SalvageReport) {
	for k, v := range other {
		r[k] += v
	}
}

// Total is the number of repairs across all fields.
func (r SalvageReport) Total() int {
	n := 0
	for _, v := range r {
		n += v
	}
	return n
}

// Fields returns the repaired field names, sorted.
func (r SalvageReport) Fields() []string {
	return slices.Sorted(maps.Keys(r))
}

var requirementAliases = map[string]Requirement{
	"mandatory":    RequirementMandatory,
	"must":         RequirementMandatory,
	"required":     RequirementMandatory,
	"critical":     RequirementCritical,
	"blocker":      RequirementCritical,
	"recommended":  RequirementRecommended,
	"should":       RequirementRecommended,
	"advised":      RequirementRecommended,
	"optional":     RequirementOptional,
	"may":          RequirementOptional,
	"nice-to-have": RequirementOptional,
	"deprecated":   RequirementDeprecated,
	"obsolete":     RequirementDeprecated,
}

var audienceAliases = map[string]Audience{
	"individual": AudienceIndividual,
	"user":       AudienceIndividual,
	"self":       AudienceIndividual,
	"personal":   AudienceIndividual,
	"group":      AudienceGroup,
	"team":       AudienceGroup,
	"teams":      AudienceGroup,
	"squad":      AudienceGroup,
	"all":        AudienceAll,
	"everyone":   AudienceAll,
	"developers": AudienceAll,
	"agents":     AudienceAll,
	"global":     AudienceAll,
}

var statusAliases = map[string]Status{
	"draft":      StatusDraft,
	"review":     StatusReview,
	"pending":    StatusReview,
	"approved":   StatusApproved,
	"active":     StatusApproved,
	"deprecated": StatusDeprecated,
	"retired":    StatusDeprecated,
}

var contentTypes = []string{"instruction", "template", "chat-session", "reference", "example"}

// Normalize turns a decoded JSON document into a canonical Instruction.
// Legacy spellings are mapped, missing governance fields are derived and
// out-of-range values clamped; every repair is counted in the report. The
// result still has to pass Validate. fallbackID is used when the document
// has no id (usually the file name).
func Normalize(raw map[string]any, fallbackID string, now time.Time) (*Instruction, SalvageReport, error) {
	rep := SalvageReport{}
	now = now.UTC().Truncate(time.Second)
	in := &Instruction{}

	id := normalizeID(str(raw, "id"))
	if id == "" {
		id = normalizeID(strings.TrimSuffix(filepath.Base(fallbackID), filepath.Ext(fallbackID)))
		if id != "" {
			rep.add("id")
		}
	} else if id != str(raw, "id") {
		rep.add("id")
	}
	if id == "" {
		return nil, rep, fmt.Errorf("missing id")
	}
	in.ID = id

	in.Body = strings.TrimRight(str(raw, "body"), " \t\r\n")
	if in.Body == "" {
		if alt := str(raw, "content"); alt != "" {
			in.Body = strings.TrimRight(alt, " \t\r\n")
			rep.add("body")
		}
	}
	in.Title = strings.TrimSpace(str(raw, "title"))
	if in.Title == "" {
		if alt := strings.TrimSpace(str(raw, "name")); alt != "" {
			in.Title = alt
		} else {
			in.Title = firstLine(in.Body, 200)
		}
		if in.Title == "" {
			in.Title = id
		}
		rep.add("title")
	}
	in.Rationale = strings.TrimSpace(str(raw, "rationale"))

	in.Priority = normalizePriority(raw["priority"], rep)

	if v, ok := requirementAliases[lowerKey(str(raw, "requirement"))]; ok {
		in.Requirement = v
		if string(v) != str(raw, "requirement") {
			rep.add("requirement")
		}
	} else {
		in.Requirement = RequirementRecommended
		rep.add("requirement")
	}

	if v, ok := audienceAliases[lowerKey(str(raw, "audience"))]; ok {
		in.Audience = v
		if string(v) != str(raw, "audience") {
			rep.add("audience")
		}
	} else {
		in.Audience = AudienceAll
		rep.add("audience")
	}

	in.Categories = normalizeCategories(raw["categories"], rep)

	if ct := lowerKey(str(raw, "contentType")); ct != "" {
		if slices.Contains(contentTypes, ct) {
			in.ContentType = ct
		} else {
			in.ContentType = "instruction"
			rep.add("contentType")
		}
	}

	if v, ok := statusAliases[lowerKey(str(raw, "status"))]; ok {
		in.Status = v
		if string(v) != str(raw, "status") {
			rep.add("status")
		}
	} else {
		in.Status = StatusApproved
		if _, present := raw["status"]; present {
			rep.add("status")
		}
	}

	in.Owner = strings.TrimSpace(str(raw, "owner"))
	if in.Owner == "" {
		in.Owner = "unowned"
	}

	switch tier := PriorityTier(strings.ToUpper(str(raw, "priorityTier"))); tier {
	case TierP1, TierP2, TierP3, TierP4:
		in.PriorityTier = tier
	default:
		in.PriorityTier = TierForPriority(in.Priority)
		if str(raw, "priorityTier") != "" {
			rep.add("priorityTier")
		}
	}

	switch c := Classification(lowerKey(str(raw, "classification"))); c {
	case ClassificationPublic, ClassificationInternal, ClassificationRestricted:
		in.Classification = c
	default:
		in.Classification = ClassificationInternal
		if str(raw, "classification") != "" {
			rep.add("classification")
		}
	}

	in.Version = strings.TrimPrefix(strings.TrimSpace(str(raw, "version")), "v")
	if !ValidSemver(in.Version) {
		if in.Version != "" {
			rep.add("version")
		}
		in.Version = coerceSemver(in.Version)
	}

	in.CreatedAt = parseTime(raw["createdAt"], rep, "createdAt", now)
	in.UpdatedAt = parseTime(raw["updatedAt"], rep, "updatedAt", in.CreatedAt)
	if in.UpdatedAt.Before(in.CreatedAt) {
		in.UpdatedAt = in.CreatedAt
		rep.add("updatedAt")
	}
	in.LastReviewedAt = parseOptionalTime(raw["lastReviewedAt"], rep, "lastReviewedAt")
	in.ArchivedAt = parseOptionalTime(raw["archivedAt"], rep, "archivedAt")

	in.ReviewIntervalDays = intValue(raw["reviewIntervalDays"])
	if in.ReviewIntervalDays <= 0 || in.ReviewIntervalDays > 3650 {
		in.ReviewIntervalDays = ReviewIntervalForTier(in.PriorityTier)
	}
	in.NextReviewDue = parseOptionalTime(raw["nextReviewDue"], rep, "nextReviewDue")
	if in.NextReviewDue == nil {
		base := in.CreatedAt
		if in.LastReviewedAt != nil {
			base = *in.LastReviewedAt
		}
		in.NextReviewDue = timePtr(base.AddDate(0, 0, in.ReviewIntervalDays))
	}

	in.ChangeLog = normalizeChangeLog(raw["changeLog"], rep)
	if len(in.ChangeLog) == 0 {
		in.ChangeLog = []ChangeLogEntry{{Version: in.Version, ChangedAt: in.CreatedAt, Summary: "initial version"}}
	}

	if sup := normalizeID(str(raw, "supersedes")); sup != "" && sup != id {
		in.Supersedes = sup
	}

	in.SemanticSummary = truncateRunes(strings.TrimSpace(str(raw, "semanticSummary")), 400)
	if in.SemanticSummary == "" {
		if d := strings.TrimSpace(str(raw, "description")); d != "" {
			in.SemanticSummary = truncateRunes(d, 400)
		} else {
			in.SemanticSummary = firstLine(in.Body, 200)
		}
	}

	in.SourceHash = SourceHash(in.Body)
	if stored := str(raw, "sourceHash"); stored != "" && stored != in.SourceHash {
		rep.add("sourceHash")
	}
	if str(raw, "schemaVersion") != SchemaVersion {
		rep.add("schemaVersion")
	}
	in.SchemaVersion = SchemaVersion

	return in, rep, nil
}

// ToRaw converts an instruction back to the map form Normalize accepts.
func ToRaw(in *Instruction) map[string]any {
	raw := map[string]any{
		"id":                 in.ID,
		"title":              in.Title,
		"body":               in.Body,
		"priority":           float64(in.Priority),
		"audience":           string(in.Audience),
		"requirement":        string(in.Requirement),
		"categories":         toAnySlice(in.Categories),
		"sourceHash":         in.SourceHash,
		"schemaVersion":      in.SchemaVersion,
		"createdAt":          in.CreatedAt.Format(time.RFC3339),
		"updatedAt":          in.UpdatedAt.Format(time.RFC3339),
		"version":            in.Version,
		"status":             string(in.Status),
		"owner":              in.Owner,
		"priorityTier":       string(in.PriorityTier),
		"classification":     string(in.Classification),
		"reviewIntervalDays": float64(in.ReviewIntervalDays),
		"semanticSummary":    in.SemanticSummary,
	}
	if in.Rationale != "" {
		raw["rationale"] = in.Rationale
	}
	if in.ContentType != "" {
		raw["contentType"] = in.ContentType
	}
	if in.Supersedes != "" {
		raw["supersedes"] = in.Supersedes
	}
	for key, t := range map[string]*time.Time{
		"lastReviewedAt": in.LastReviewedAt,
		"nextReviewDue":  in.NextReviewDue,
		"archivedAt":     in.ArchivedAt,
	} {
		if t != nil {
			raw[key] = t.Format(time.RFC3339)
		}
	}
	if len(in.ChangeLog) > 0 {
		log := make([]any, len(in.ChangeLog))
		for i, c := range in.ChangeLog {
			log[i] = map[string]any{
				"version":   c.Version,
				"changedAt": c.ChangedAt.Format(time.RFC3339),
				"summary":   c.Summary,
			}
		}
		raw["changeLog"] = log
	}
	return raw
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func normalizeID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	out := strings.TrimLeft(b.String(), "._-")
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}

func normalizePriority(v any, rep SalvageReport) int {
	p, ok := numberValue(v)
	if !ok {
		if v != nil {
			rep.add("priority")
		}
		return 50
	}
	clamped := min(max(int(p), 1), 100)
	if float64(clamped) != p {
		rep.add("priority")
	}
	return clamped
}

func normalizeCategories(v any, rep SalvageReport) []string {
	var in []string
	switch t := v.(type) {
	case nil:
		return []string{}
	case string:
		in = strings.Split(t, ",")
		rep.add("categories")
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				in = append(in, s)
			} else {
				rep.add("categories")
			}
		}
	case []string:
		in = t
	default:
		rep.add("categories")
		return []string{}
	}

	seen := map[string]bool{}
	out := []string{}
	for _, c := range in {
		norm := normalizeCategory(c)
		if norm != c {
			rep.add("categories")
		}
		if norm == "" || !categoryPattern.MatchString(norm) || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	if !slices.IsSorted(out) {
		slices.Sort(out)
	}
	return out
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	c = strings.Join(strings.Fields(c), "-")
	if len(c) > 64 {
		c = c[:64]
	}
	return c
}

func normalizeChangeLog(v any, rep SalvageReport) []ChangeLogEntry {
	list, ok := v.([]any)
	if !ok {
		if v != nil {
			rep.add("changeLog")
		}
		return nil
	}
	var out []ChangeLogEntry
	for _, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			rep.add("changeLog")
			continue
		}
		ver := strings.TrimPrefix(str(m, "version"), "v")
		if !ValidSemver(ver) {
			ver = coerceSemver(ver)
			rep.add("changeLog")
		}
		at, ok := parseTimeValue(m["changedAt"])
		if !ok {
			rep.add("changeLog")
		}
		out = append(out, ChangeLogEntry{
			Version:   ver,
			ChangedAt: at,
			Summary:   truncateRunes(str(m, "summary"), 500),
		})
	}
	return out
}

// coerceSemver salvages "2", "2.1" or garbage into a valid version.
func coerceSemver(v string) string {
	parts := strings.Split(strings.SplitN(v, "-", 2)[0], ".")
	nums := []int{1, 0, 0}
	if v != "" {
		nums = []int{0, 0, 0}
	}
	valid := false
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return "1.0.0"
		}
		nums[i] = n
		valid = true
	}
	if !valid || (nums[0] == 0 && nums[1] == 0 && nums[2] == 0) {
		return "1.0.0"
	}
	return fmt.Sprintf("%d.%d.%d", nums[0], nums[1], nums[2])
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseTimeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	case float64:
		// epoch milliseconds
		if t > 0 {
			return time.UnixMilli(int64(t)).UTC(), true
		}
	}
	return time.Time{}, false
}

func parseTime(v any, rep SalvageReport, field string, fallback time.Time) time.Time {
	if t, ok := parseTimeValue(v); ok {
		if _, isString := v.(string); !isString {
			rep.add(field)
		}
		return t
	}
	if v != nil {
		rep.add(field)
	}
	return fallback
}

func parseOptionalTime(v any, rep SalvageReport, field string) *time.Time {
	if v == nil {
		return nil
	}
	if t, ok := parseTimeValue(v); ok {
		return &t
	}
	if s, ok := v.(string); !ok || s != "" {
		rep.add(field)
	}
	return nil
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func lowerKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}

func numberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func intValue(v any) int {
	f, _ := numberValue(v)
	return int(f)
}

// firstLine returns the first non-empty line of body with markdown heading
// and list markers removed, truncated to limit runes.
func firstLine(body string, limit int) string {
	for line := range strings.SplitSeq(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "#>*- \t")
		if line != "" {
			return truncateRunes(line, limit)
		}
	}
	return ""
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}
