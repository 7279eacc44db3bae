// ABOUTME: Product identity extraction and inventory-to-catalog join.
// ABOUTME: Resolves canonical products from free-text versions and joins records per product bucket.

package matcher

import (
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
)

// DefaultCatalog lists the known canonical products in matching priority order
var DefaultCatalog = []string{
	"Microsoft Windows",
	"Apache Struts",
	"Adobe Flash Player",
	"Oracle Database",
	"Cisco IOS",
	"OpenSSL",
	"Linux Kernel",
	"WordPress",
	"Cisco ASA",
	"Nginx",
	"MySQL",
}

const (
	DefaultMaxRows = 500
	DefaultSeed    = 42
)

// Columns whose values describe the system and are merged into one column when
// both sides of the join carry them. System values win over catalog values.
var coalescedColumns = map[string]bool{
	types.ColumnNetworkAccessLevel: true,
	types.ColumnPatchLevel:         true,
}

// Options bounds the join
type Options struct {
	MaxRows int    // Per-side row cap applied before joining
	Seed    uint64 // Seed for the per-side subsample
}

// DefaultOptions returns the standard per-side cap and seed
func DefaultOptions() Options {
	return Options{MaxRows: DefaultMaxRows, Seed: DefaultSeed}
}

// JoinResult holds the joined table and the bookkeeping around it
type JoinResult struct {
	Joined         *table.Frame
	Overlap        []string
	SystemsMatched int
	SystemsSampled int
	CatalogSampled int
}

// ProductMatcher resolves canonical product names against a fixed priority catalog
type ProductMatcher struct {
	catalog []string
	lowered []string
	logger  *logrus.Logger
}

// NewProductMatcher creates a matcher over the given catalog. A nil or empty
// catalog falls back to DefaultCatalog.
func NewProductMatcher(catalog []string, logger *logrus.Logger) *ProductMatcher {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	lowered := make([]string, len(catalog))
	for i, name := range catalog {
		lowered[i] = strings.ToLower(name)
	}
	return &ProductMatcher{
		catalog: catalog,
		lowered: lowered,
		logger:  logger,
	}
}

// Catalog returns the product names in priority order
func (m *ProductMatcher) Catalog() []string {
	out := make([]string, len(m.catalog))
	copy(out, m.catalog)
	return out
}

// Extract returns the first catalog product whose lowercase name is a substring
// of the lowercase version string. When several products would match, the one
// listed first in the catalog wins.
func (m *ProductMatcher) Extract(softwareVersion string) (string, bool) {
	if softwareVersion == "" {
		return "", false
	}
	haystack := strings.ToLower(softwareVersion)
	for i, needle := range m.lowered {
		if strings.Contains(haystack, needle) {
			return m.catalog[i], true
		}
	}
	return "", false
}

// Join resolves a product for every system row, keeps only products present on
// both sides, caps each side at opts.MaxRows and returns the inner equality join
// on product. Rows are ordered by catalog row, then system row.
func (m *ProductMatcher) Join(systems, catalog *table.Frame, opts Options) (*JoinResult, error) {
	logger := m.logger.WithField("operation", "join")

	products := m.systemProducts(systems)

	// Keep resolved systems only
	var resolved []int
	counts := make(map[string]int)
	for i, product := range products {
		if product == "" {
			continue
		}
		resolved = append(resolved, i)
		counts[product]++
	}
	logger.WithFields(logrus.Fields{
		"systems":         systems.Len(),
		"resolved":        len(resolved),
		"product_counts":  counts,
		"catalog_records": catalog.Len(),
	}).Info("Extracted system products")

	systemsWithProduct := systems.Take(resolved)
	resolvedProducts := make([]string, len(resolved))
	for i, idx := range resolved {
		resolvedProducts[i] = products[idx]
	}
	if err := systemsWithProduct.Set(table.NewTextColumn(types.ColumnProduct, resolvedProducts)); err != nil {
		return nil, types.WrapError(types.KindInternal, err, "failed to attach system products")
	}

	catalogProducts := columnTexts(catalog, types.ColumnProduct)
	overlap := intersect(catalogProducts, resolvedProducts)
	logger.WithField("overlap", overlap).Info("Matching products found")
	if len(overlap) == 0 {
		return nil, types.NewError(types.KindNoOverlap, "no matching products found between system inventory and vulnerability catalog")
	}

	inOverlap := make(map[string]bool, len(overlap))
	for _, product := range overlap {
		inOverlap[product] = true
	}

	systemRows := filterRows(resolvedProducts, inOverlap)
	catalogRows := filterRows(catalogProducts, inOverlap)

	systemRows = subsample(systemRows, opts.MaxRows, opts.Seed)
	catalogRows = subsample(catalogRows, opts.MaxRows, opts.Seed)

	sampledSystems := systemsWithProduct.Take(systemRows)
	sampledCatalog := catalog.Take(catalogRows)

	joined, err := mergeOnProduct(sampledCatalog, sampledSystems)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, err, "failed to merge records")
	}

	logger.WithField("joined_rows", joined.Len()).Info("Merged dataset")
	if joined.Len() == 0 {
		return nil, types.NewError(types.KindNoOverlap, "join of system inventory and vulnerability catalog is empty")
	}

	return &JoinResult{
		Joined:         joined,
		Overlap:        overlap,
		SystemsMatched: len(resolved),
		SystemsSampled: len(systemRows),
		CatalogSampled: len(catalogRows),
	}, nil
}

// systemProducts resolves a product per system row; unresolved rows are empty.
// A missing or numeric version column resolves nothing.
func (m *ProductMatcher) systemProducts(systems *table.Frame) []string {
	products := make([]string, systems.Len())
	col, ok := systems.Column(types.ColumnSoftwareVersion)
	if !ok || col.Numeric {
		return products
	}
	for i, version := range col.Texts {
		if product, ok := m.Extract(version); ok {
			products[i] = product
		}
	}
	return products
}

func columnTexts(frame *table.Frame, name string) []string {
	out := make([]string, frame.Len())
	col, ok := frame.Column(name)
	if !ok {
		return out
	}
	for i := range out {
		out[i], _ = col.Text(i)
	}
	return out
}

// intersect returns the non-empty values present in both slices, sorted
func intersect(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, v := range b {
		if v != "" {
			inB[v] = true
		}
	}
	seen := make(map[string]bool)
	var out []string
	for _, v := range a {
		if v != "" && inB[v] && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func filterRows(values []string, keep map[string]bool) []int {
	var rows []int
	for i, v := range values {
		if keep[v] {
			rows = append(rows, i)
		}
	}
	return rows
}

// subsample picks at most limit rows with a seeded permutation. The picked rows
// keep their input order, so the result depends only on the seed and the input.
func subsample(rows []int, limit int, seed uint64) []int {
	if limit <= 0 || len(rows) <= limit {
		return rows
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	picked := rng.Perm(len(rows))[:limit]
	sort.Ints(picked)

	out := make([]int, limit)
	for i, p := range picked {
		out[i] = rows[p]
	}
	return out
}

// mergeOnProduct performs the inner equality join. Left columns come first,
// then right columns other than the key; clashing names get _x and _y suffixes
// unless they are coalesced system attributes.
func mergeOnProduct(left, right *table.Frame) (*table.Frame, error) {
	leftKeys := columnTexts(left, types.ColumnProduct)
	rightKeys := columnTexts(right, types.ColumnProduct)

	buckets := make(map[string][]int)
	for i, key := range rightKeys {
		buckets[key] = append(buckets[key], i)
	}

	var leftIdx, rightIdx []int
	for i, key := range leftKeys {
		for _, j := range buckets[key] {
			leftIdx = append(leftIdx, i)
			rightIdx = append(rightIdx, j)
		}
	}

	leftRows := left.Take(leftIdx)
	rightRows := right.Take(rightIdx)

	joined := table.New(len(leftIdx))
	for _, name := range leftRows.Names() {
		col, _ := leftRows.Column(name)
		if name != types.ColumnProduct && rightRows.Has(name) {
			if coalescedColumns[name] {
				other, _ := rightRows.Column(name)
				col = coalesce(other, col)
			} else {
				col = col.Renamed(name + "_x")
			}
		}
		if err := joined.Set(col); err != nil {
			return nil, err
		}
	}
	for _, name := range rightRows.Names() {
		if name == types.ColumnProduct {
			continue
		}
		col, _ := rightRows.Column(name)
		if leftRows.Has(name) {
			if coalescedColumns[name] {
				continue
			}
			col = col.Renamed(name + "_y")
		}
		if err := joined.Set(col); err != nil {
			return nil, err
		}
	}
	return joined, nil
}

// coalesce takes primary values and fills missing cells from fallback
func coalesce(primary, fallback *table.Column) *table.Column {
	if primary.Numeric && fallback.Numeric {
		values := make([]float64, primary.Len())
		for i := range values {
			values[i] = primary.Floats[i]
			if primary.IsMissing(i) {
				values[i] = fallback.Floats[i]
			}
		}
		return table.NewNumericColumn(primary.Name, values)
	}

	values := make([]string, primary.Len())
	for i := range values {
		if text, ok := primary.Text(i); ok {
			values[i] = text
			continue
		}
		values[i], _ = fallback.Text(i)
	}
	return table.NewTextColumn(primary.Name, values)
}
