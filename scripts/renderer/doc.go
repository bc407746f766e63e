// Package renderer loads the embedded templates under templates/ and renders
// them with sprig functions.
//
// Shell snippets used for Docker bundling and the markdown session report
// live as separate `.tmpl` files rather than Go string literals.
//
// Example:
//
//	script, err := renderer.Render(renderer.TplLayerBundle, renderer.LayerBundleData{
//	    InputDir:  "/asset-input",
//	    OutputDir: "/asset-output",
//	})
package renderer
