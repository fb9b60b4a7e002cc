// Package journeys is the catalog of end-to-end journeys the harness ships
// with: employer happy path, cross-role application, access control and
// employer chat.
//
// Journeys are assembled from Fixtures (routes, locators and expected texts)
// so that a new application revision needs a new fixtures document, not new
// code. The defaults are embedded from fixtures.yaml.
package journeys
