package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"paperflow/internal/items"
	"paperflow/internal/logging"
	"paperflow/internal/parser"
)

// wipe removes a stage's output for one item and language ahead of a
// regenerate run. Inputs of the stage are never touched.
func (p *Pipeline) wipe(ctx context.Context, stage Stage, lang string, it *items.Item) error {
	logger := logging.WithContext(ctx, p.logger)
	switch stage.Name {
	case StageFetch:
		if it.PDFPath != "" {
			if err := removeFile(p.repairCachePath(it.PDFPath)); err != nil {
				return err
			}
		}
		if err := removeFile(it.PDFPath); err != nil {
			return err
		}
		return p.items.ClearFields(ctx, it.ID, items.FieldPDFPath, items.FieldPDFSHA256)
	case StageParse:
		if it.PDFPath != "" {
			stem := parser.Stem(it.PDFPath)
			for _, dir := range []string{
				filepath.Join(p.cfg.Paths.ParseOutRoot, stem),
				filepath.Join(p.cfg.Paths.ParseOutRoot, repairedRoot, stem),
			} {
				if err := os.RemoveAll(dir); err != nil {
					return fmt.Errorf("remove parse output %s: %w", dir, err)
				}
			}
			if err := removeFile(p.repairCachePath(it.PDFPath)); err != nil {
				return err
			}
		}
		return p.items.ClearFields(ctx, it.ID, items.FieldRawTextPath)
	case StageImages:
		removed, err := p.items.DeleteAssets(ctx, it.ID, lang)
		if err != nil {
			return err
		}
		for _, a := range removed {
			if err := removeFile(a.LocalPath); err != nil {
				return err
			}
		}
		// Leftovers of interrupted generations. The glob does not descend into
		// the per-language subdirectories.
		leftovers, _ := filepath.Glob(filepath.Join(p.ImageDir(it, lang), "*.tmp.png"))
		for _, path := range leftovers {
			if err := removeFile(path); err != nil {
				return err
			}
		}
		logger.Debug("wiped generated images",
			logging.Int64(logging.FieldItemID, it.ID),
			logging.String(logging.FieldLang, lang),
			logging.Int("assets", len(removed)),
		)
		return nil
	case StagePackage:
		if err := removeFile(it.Value(items.FieldPackage(lang))); err != nil {
			return err
		}
		return p.items.ClearFields(ctx, it.ID, items.FieldPackage(lang))
	default:
		return p.items.ClearFields(ctx, it.ID, stage.Produces(lang)...)
	}
}

func removeFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
