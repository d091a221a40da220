// Package atlas packs many small images into one large GPU texture.
//
// [Allocator] is a guillotine rectangle packer with best-fit placement. Every
// allocation picks the smallest free region that fits, then cuts off up to two
// remainders: a right remainder with the request's height and a bottom
// remainder spanning the chosen region's full width. Deallocation returns the
// rectangle to the free set and repeatedly merges edge-adjacent free regions
// of equal height or width until no merge applies.
//
// At every instant the allocated and free regions are disjoint and together
// tile the whole atlas. Remainders are not merged with each other on
// allocate, so a long-lived atlas fragments. When Allocate reports that no
// region fits, treat it as admission control: flush the atlas with Reset and
// upload the live assets again.
//
// [TextureAtlas] binds an Allocator to a hal texture and uploads pixel data
// into allocated regions.
package atlas
