package normalizer

import "github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"

// Inject merges tenant metadata into p. Caller tags override parsed tags,
// except the reserved tenantId and apiKeyId which are always taken from
// meta. Reserved keys supplied by the payload are stripped.
func Inject(p *models.NormalizedPoint, meta *models.TenantMeta) {
	if meta == nil {
		return
	}
	if p.Tags == nil {
		p.Tags = make(map[string]string, len(meta.Tags)+2)
	}

	delete(p.Tags, models.TagTenantID)
	delete(p.Tags, models.TagAPIKeyID)

	for k, v := range meta.Tags {
		if isReserved(k) {
			continue
		}
		p.Tags[k] = v
	}

	if meta.TenantID != "" {
		p.Tags[models.TagTenantID] = meta.TenantID
	}
	if meta.APIKeyID != "" {
		p.Tags[models.TagAPIKeyID] = meta.APIKeyID
	}
}

func isReserved(key string) bool {
	return key == models.TagTenantID || key == models.TagAPIKeyID
}
