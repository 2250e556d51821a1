package recipe

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var vulgarFractions = map[rune]string{
	'½': "1/2", '⅓': "1/3", '⅔': "2/3", '¼': "1/4", '¾': "3/4",
	'⅕': "1/5", '⅖': "2/5", '⅗': "3/5", '⅘': "4/5", '⅙': "1/6",
	'⅚': "5/6", '⅛': "1/8", '⅜': "3/8", '⅝': "5/8", '⅞': "7/8",
}

// units maps every accepted spelling to its canonical unit.
var units = map[string]string{}

func init() {
	for canonical, spellings := range map[string][]string{
		"cup":     {"cup", "cups", "c"},
		"tbsp":    {"tbsp", "tbsps", "tbs", "tablespoon", "tablespoons", "tbl"},
		"tsp":     {"tsp", "tsps", "teaspoon", "teaspoons"},
		"g":       {"g", "gr", "gram", "grams", "gramme", "grammes"},
		"kg":      {"kg", "kgs", "kilogram", "kilograms"},
		"mg":      {"mg", "milligram", "milligrams"},
		"ml":      {"ml", "milliliter", "milliliters", "millilitre", "millilitres"},
		"cl":      {"cl", "centiliter", "centiliters"},
		"dl":      {"dl", "deciliter", "deciliters"},
		"l":       {"l", "liter", "liters", "litre", "litres"},
		"oz":      {"oz", "ounce", "ounces"},
		"fl oz":   {"floz"},
		"lb":      {"lb", "lbs", "pound", "pounds"},
		"pint":    {"pint", "pints", "pt"},
		"quart":   {"quart", "quarts", "qt"},
		"gallon":  {"gallon", "gallons", "gal"},
		"pinch":   {"pinch", "pinches"},
		"dash":    {"dash", "dashes"},
		"clove":   {"clove", "cloves"},
		"can":     {"can", "cans", "tin", "tins"},
		"slice":   {"slice", "slices"},
		"piece":   {"piece", "pieces", "pc", "pcs"},
		"bunch":   {"bunch", "bunches"},
		"sprig":   {"sprig", "sprigs"},
		"stick":   {"stick", "sticks"},
		"handful": {"handful", "handfuls"},
		"package": {"package", "packages", "pkg", "packet", "packets"},
	} {
		for _, s := range spellings {
			units[s] = canonical
		}
	}
}

// ParseIngredient splits a free-text ingredient line such as
// "1 1/2 cups flour, sifted" into quantity, unit, name and note.
func ParseIngredient(line string) Ingredient {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "-*•· \t")
	s = expandVulgarFractions(s)

	var in Ingredient
	in.Quantity, s = takeQuantity(s)

	fields := strings.Fields(s)
	if len(fields) > 0 && in.Quantity != "" {
		if unit, n := matchUnit(fields); unit != "" {
			in.Unit = unit
			fields = fields[n:]
			if len(fields) > 0 && strings.EqualFold(fields[0], "of") {
				fields = fields[1:]
			}
		}
	}

	rest := strings.Join(fields, " ")
	if i := strings.Index(rest, ","); i >= 0 {
		in.Note = strings.TrimSpace(rest[i+1:])
		rest = rest[:i]
	}
	in.Name = strings.TrimSpace(rest)
	if in.Name == "" {
		in.Name = strings.TrimSpace(line)
		in.Quantity, in.Unit, in.Note = "", "", ""
	}
	return in
}

// expandVulgarFractions turns "1½" into "1 1/2" and "¼" into "1/4".
func expandVulgarFractions(s string) string {
	var b strings.Builder
	prev := rune(0)
	for _, r := range s {
		if frac, ok := vulgarFractions[r]; ok {
			if unicode.IsDigit(prev) {
				b.WriteByte(' ')
			}
			b.WriteString(frac)
		} else if r == '⁄' {
			b.WriteByte('/')
		} else {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

// takeQuantity consumes a leading amount: "2", "0.5", "1/2", "1 1/2",
// "2-3" or "2 to 3".
func takeQuantity(s string) (string, string) {
	fields := strings.Fields(s)
	if len(fields) == 0 || !isAmount(fields[0]) {
		// "200g" style: number glued to a unit.
		if len(fields) > 0 {
			if num, unit := splitGlued(fields[0]); num != "" {
				return num, strings.Join(append([]string{unit}, fields[1:]...), " ")
			}
		}
		return "", s
	}

	qty := fields[0]
	n := 1
	switch {
	case strings.Contains(qty, "-") || strings.Contains(qty, "–"):
		// already a range
	case len(fields) > 2 && (fields[1] == "-" || fields[1] == "–" || strings.EqualFold(fields[1], "to")) && isAmount(fields[2]):
		qty = qty + "-" + fields[2]
		n = 3
	case len(fields) > 1 && isFraction(fields[1]) && !strings.Contains(qty, "/"):
		qty = qty + " " + fields[1]
		n = 2
	}
	qty = strings.ReplaceAll(qty, "–", "-")
	return qty, strings.Join(fields[n:], " ")
}

func isAmount(tok string) bool {
	if tok == "" {
		return false
	}
	for _, part := range strings.FieldsFunc(tok, func(r rune) bool { return r == '-' || r == '–' }) {
		if !isNumber(part) && !isFraction(part) {
			return false
		}
	}
	return !strings.HasPrefix(tok, "-")
}

func isNumber(tok string) bool {
	for _, r := range tok {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	_, err := strconv.ParseFloat(strings.ReplaceAll(tok, ",", "."), 64)
	return err == nil
}

func isFraction(tok string) bool {
	num, den, ok := strings.Cut(tok, "/")
	if !ok {
		return false
	}
	a, errA := strconv.Atoi(num)
	b, errB := strconv.Atoi(den)
	return errA == nil && errB == nil && a >= 0 && b > 0
}

func splitGlued(tok string) (string, string) {
	i := strings.IndexFunc(tok, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' })
	if i <= 0 {
		return "", ""
	}
	num, rest := tok[:i], tok[i:]
	if _, ok := units[strings.ToLower(strings.TrimSuffix(rest, "."))]; !ok || !isNumber(num) {
		return "", ""
	}
	return num, rest
}

// matchUnit looks for a known unit at the start of fields and returns the
// canonical unit and how many fields it used.
func matchUnit(fields []string) (string, int) {
	if len(fields) > 1 && strings.EqualFold(fields[0], "fl") && strings.HasPrefix(strings.ToLower(fields[1]), "oz") {
		return "fl oz", 2
	}
	tok := strings.ToLower(strings.TrimRight(fields[0], ".,"))
	if unit, ok := units[tok]; ok {
		if strings.HasSuffix(fields[0], ",") {
			// "2 cans, drained" has no name after the unit.
			return "", 0
		}
		return unit, 1
	}
	return "", 0
}

// ParseQuantity converts a quantity string to a number. Ranges and
// non-numeric quantities return false.
func ParseQuantity(q string) (float64, bool) {
	q = strings.TrimSpace(expandVulgarFractions(q))
	if q == "" || strings.Contains(q, "-") {
		return 0, false
	}
	var total float64
	for _, part := range strings.Fields(q) {
		switch {
		case isFraction(part):
			num, den, _ := strings.Cut(part, "/")
			a, _ := strconv.Atoi(num)
			b, _ := strconv.Atoi(den)
			total += float64(a) / float64(b)
		case isNumber(part):
			f, _ := strconv.ParseFloat(strings.ReplaceAll(part, ",", "."), 64)
			total += f
		default:
			return 0, false
		}
	}
	return total, true
}

var commonFractions = []struct {
	value float64
	text  string
}{
	{1.0 / 8, "1/8"}, {1.0 / 4, "1/4"}, {1.0 / 3, "1/3"}, {3.0 / 8, "3/8"}, {1.0 / 2, "1/2"},
	{5.0 / 8, "5/8"}, {2.0 / 3, "2/3"}, {3.0 / 4, "3/4"}, {7.0 / 8, "7/8"},
}

// FormatQuantity renders a number the way cooks write it: "1 1/2",
// "3/4", "2", or a trimmed decimal when no common fraction fits.
func FormatQuantity(v float64) string {
	whole, frac := math.Modf(v)
	if frac < 0.01 {
		return strconv.FormatFloat(whole, 'f', -1, 64)
	}
	if frac > 0.99 {
		return strconv.FormatFloat(whole+1, 'f', -1, 64)
	}
	for _, cf := range commonFractions {
		if math.Abs(frac-cf.value) < 0.01 {
			if whole == 0 {
				return cf.text
			}
			return fmt.Sprintf("%d %s", int(whole), cf.text)
		}
	}
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// String renders the ingredient back into a single line.
func (in Ingredient) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{in.Quantity, in.Unit, in.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	s := strings.Join(parts, " ")
	if in.Note != "" {
		s += ", " + in.Note
	}
	return s
}
