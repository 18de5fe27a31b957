package odm

// ArrayHydrator builds one map per row, keyed by column name. Mapped
// columns are converted through their logical type; other columns pass
// through with decoder artifacts normalized. Only the columns present are
// converted, so projections of a class hydrate cleanly.
type ArrayHydrator struct {
	conv valueConverter
}

// Hydrate returns []map[string]any.
func (h *ArrayHydrator) Hydrate(result *Result, meta *ClassMetadata) (any, error) {
	rows := result.Rows()
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		cols := row.Columns()
		m := make(map[string]any, len(cols))
		for _, name := range cols {
			v, _, err := h.conv.column(meta, row, name)
			if err != nil {
				return nil, err
			}
			m[name] = v
		}
		out = append(out, m)
	}
	return out, nil
}
