// Package extract pulls raw reviews for configured entities from the review
// platform. The platform serves a Next.js site: the entity page embeds a
// build id that addresses a paginated JSON data route.
package extract
